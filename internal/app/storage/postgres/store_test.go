package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/portfolio"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/watchlist"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	mov, err := store.CreateMovement(ctx, portfolio.Movement{
		Symbol:   "AAPL",
		Side:     portfolio.SideBuy,
		Quantity: 5,
		Price:    187.5,
		Date:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create movement: %v", err)
	}
	defer store.DeleteMovement(ctx, mov.ID)

	wl, err := store.CreateWatchlist(ctx, watchlist.Watchlist{
		DisplayName: "Tech",
		Symbols:     []string{"AAPL", "MSFT"},
	})
	if err != nil {
		t.Fatalf("create watchlist: %v", err)
	}
	defer store.DeleteWatchlist(ctx, wl.ID)

	got, err := store.GetWatchlist(ctx, wl.ID)
	if err != nil {
		t.Fatalf("get watchlist: %v", err)
	}
	if len(got.Symbols) != 2 {
		t.Fatalf("symbols round-trip: %v", got.Symbols)
	}

	snap := market.Snapshot{
		TakenAt: time.Now().UTC(),
		Entries: map[string]market.Entry{
			"AAPL": {Symbol: "AAPL", Quote: market.Quote{Price: 190.0}},
		},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	loaded, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded.Entries["AAPL"].Quote.Price != 190.0 {
		t.Fatalf("snapshot round-trip: %+v", loaded.Entries["AAPL"])
	}
}
