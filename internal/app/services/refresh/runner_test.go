package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
)

func TestRunnerLifecycle(t *testing.T) {
	primary := &fakePrimary{quote: market.Quote{Price: 10, MarketTimestamp: 1700000000},
		daily: market.DailyMetrics{Week52High: 1}, macd: 1, sma: 1}

	priceCache := cache.New(cache.Config{}, nil)
	orch := New(priceCache, fastQueue(t), Sources{Primary: primary}, nil)
	orch.AddProvider(staticProvider{symbols: []string{"AAPL"}})

	runner, err := NewRunner(orch, "@every 1s", nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	runner.pollInterval = 5 * time.Millisecond

	ctx := context.Background()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// second Start is a no-op
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("double start: %v", err)
	}

	// switch to polling cadence so a cycle fires quickly
	runner.FeedLost()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := priceCache.Get("AAPL"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no refresh cycle ran before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	runner.FeedRestored()

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// second Stop is a no-op
	if err := runner.Stop(stopCtx); err != nil {
		t.Fatalf("double stop: %v", err)
	}
}

func TestNewRunner_BadSchedule(t *testing.T) {
	priceCache := cache.New(cache.Config{}, nil)
	orch := New(priceCache, fastQueue(t), Sources{}, nil)
	if _, err := NewRunner(orch, "not a schedule", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
