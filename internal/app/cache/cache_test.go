package cache

import (
	"testing"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
)

func newTestCache() (*PriceCache, *time.Time) {
	c := New(DefaultConfig(), nil)
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.Local)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMergeQuote_MonotonicTimestampGuard(t *testing.T) {
	c, _ := newTestCache()

	first := market.Quote{Price: 100, MarketTimestamp: 1_700_000_000, Source: market.SourcePrimary}
	if !c.MergeQuote("AAPL", first) {
		t.Fatalf("initial quote merge rejected")
	}

	older := market.Quote{Price: 90, MarketTimestamp: 1_699_999_000, Source: market.SourceFallback}
	if c.MergeQuote("AAPL", older) {
		t.Fatalf("older quote should have been rejected")
	}
	equal := market.Quote{Price: 95, MarketTimestamp: 1_700_000_000, Source: market.SourceFallback}
	if c.MergeQuote("AAPL", equal) {
		t.Fatalf("equal-timestamp quote should have been rejected")
	}

	entry, ok := c.Get("AAPL")
	if !ok {
		t.Fatalf("entry missing")
	}
	if entry.Quote.Price != 100 || entry.Quote.Source != market.SourcePrimary {
		t.Fatalf("quote fields changed by a stale write: %#v", entry.Quote)
	}

	newer := market.Quote{Price: 101, MarketTimestamp: 1_700_000_060, Source: market.SourcePrimary}
	if !c.MergeQuote("AAPL", newer) {
		t.Fatalf("newer quote rejected")
	}
	entry, _ = c.Get("AAPL")
	if entry.Quote.Price != 101 {
		t.Fatalf("newer quote not applied: %v", entry.Quote.Price)
	}
}

func TestMergeDaily_PreservesOtherCategories(t *testing.T) {
	c, _ := newTestCache()
	c.MergeQuote("VIST", market.Quote{Price: 48.66, MarketTimestamp: 1})
	c.MergeDaily("VIST", market.DailyMetrics{Week52High: 60, Week52Low: 20})

	entry, _ := c.Get("VIST")
	if entry.Quote.Price != 48.66 {
		t.Fatalf("daily merge clobbered quote: %#v", entry.Quote)
	}
	if entry.DailyMetrics.Week52High != 60 {
		t.Fatalf("daily merge not applied: %#v", entry.DailyMetrics)
	}
}

func TestIsStale_QuoteAlways(t *testing.T) {
	c, _ := newTestCache()
	c.MergeQuote("AAPL", market.Quote{Price: 1, MarketTimestamp: 1})
	if !c.IsStale("AAPL", CategoryQuote) {
		t.Fatalf("quotes must always poll")
	}
}

func TestIsStale_DailyRollsOverAtMidnightAndTTL(t *testing.T) {
	c, now := newTestCache()

	if !c.IsStale("AAPL", CategoryDaily) {
		t.Fatalf("fresh cache must report daily stale")
	}

	c.MergeDaily("AAPL", market.DailyMetrics{Week52High: 1})
	if c.IsStale("AAPL", CategoryDaily) {
		t.Fatalf("just-merged daily should be fresh")
	}

	// TTL elapses within the same day.
	*now = now.Add(4*time.Hour + time.Minute)
	if !c.IsStale("AAPL", CategoryDaily) {
		t.Fatalf("daily should be stale after the TTL")
	}

	// Re-merge, then cross midnight with only a short elapsed time.
	c.MergeDaily("AAPL", market.DailyMetrics{Week52High: 1})
	*now = time.Date(2026, time.March, 11, 0, 5, 0, 0, time.Local)
	if !c.IsStale("AAPL", CategoryDaily) {
		t.Fatalf("daily should be stale after date rollover even under the TTL")
	}
}

func TestIsStale_IndicatorsTTL(t *testing.T) {
	c, now := newTestCache()
	c.MergeIndicators("AAPL", market.Indicators{})
	if c.IsStale("AAPL", CategoryIndicators) {
		t.Fatalf("just-merged indicators should be fresh")
	}
	*now = now.Add(5*time.Minute + time.Second)
	if !c.IsStale("AAPL", CategoryIndicators) {
		t.Fatalf("indicators should be stale after the TTL")
	}
}

func TestApplyTick_DirectionAndGuard(t *testing.T) {
	c, _ := newTestCache()
	c.MergeQuote("TSLA", market.Quote{Price: 200, PreviousClose: 195, MarketTimestamp: 1_700_000_000})

	dir, ok := c.ApplyTick(market.Tick{Symbol: "TSLA", Price: 201, Timestamp: 1_700_000_005_000})
	if !ok || dir != market.DirectionUp {
		t.Fatalf("expected accepted up tick, got ok=%v dir=%v", ok, dir)
	}

	dir, ok = c.ApplyTick(market.Tick{Symbol: "TSLA", Price: 199, Timestamp: 1_700_000_010_000})
	if !ok || dir != market.DirectionDown {
		t.Fatalf("expected accepted down tick, got ok=%v dir=%v", ok, dir)
	}

	// Same second as the cached quote: rejected.
	if _, ok := c.ApplyTick(market.Tick{Symbol: "TSLA", Price: 500, Timestamp: 1_700_000_010_500}); ok {
		t.Fatalf("tick within the same second should be rejected")
	}

	entry, _ := c.Get("TSLA")
	if entry.Quote.Price != 199 {
		t.Fatalf("rejected tick changed the price: %v", entry.Quote.Price)
	}
	if entry.Quote.Source != market.SourcePushFeed {
		t.Fatalf("tick source not recorded: %v", entry.Quote.Source)
	}
	if entry.Quote.DayHigh < 201 {
		t.Fatalf("day high not raised by tick: %v", entry.Quote.DayHigh)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, _ := newTestCache()
	c.MergeQuote("AAPL", market.Quote{Price: 190, MarketTimestamp: 2})
	c.MergeDaily("AAPL", market.DailyMetrics{Week52High: 240, Week52Low: 160})

	snap := c.Snapshot()

	restored := New(DefaultConfig(), nil)
	restored.Restore(snap)
	entry, ok := restored.Get("AAPL")
	if !ok {
		t.Fatalf("restored cache missing entry")
	}
	if entry.Quote.Price != 190 || entry.DailyMetrics.Week52High != 240 {
		t.Fatalf("restored entry differs: %#v", entry)
	}
	if entry.Symbol != "AAPL" {
		t.Fatalf("symbol not rehydrated: %q", entry.Symbol)
	}
}
