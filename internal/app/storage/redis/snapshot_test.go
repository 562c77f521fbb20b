package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
)

func TestSnapshotStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()

	store := NewWithClient(client, "marketdata:test:snapshot", time.Minute)
	ctx := context.Background()
	defer client.Del(ctx, "marketdata:test:snapshot")

	snap := market.Snapshot{
		TakenAt: time.Now().UTC().Truncate(time.Second),
		Entries: map[string]market.Entry{
			"AAPL": {Symbol: "AAPL", Quote: market.Quote{Price: 201.25}},
		},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.TakenAt.Equal(snap.TakenAt) {
		t.Fatalf("taken_at = %v, want %v", got.TakenAt, snap.TakenAt)
	}
	if got.Entries["AAPL"].Quote.Price != 201.25 {
		t.Fatalf("entry price = %v", got.Entries["AAPL"].Quote.Price)
	}

	ttl, err := client.TTL(ctx, "marketdata:test:snapshot").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v, want within a minute", ttl)
	}
}
