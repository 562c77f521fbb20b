// Package cache implements the per-symbol price cache with independent
// freshness tracking for quote, daily and indicator data.
package cache

import (
	"sync"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Category names one independently refreshed slice of an entry.
type Category string

const (
	CategoryQuote      Category = "quote"
	CategoryDaily      Category = "daily"
	CategoryIndicators Category = "indicators"
)

// Config holds the freshness windows. Daily data additionally refreshes on
// calendar-date rollover regardless of the TTL.
type Config struct {
	DailyTTL     time.Duration
	IndicatorTTL time.Duration
}

// DefaultConfig mirrors the refresh cadences the dashboard runs with.
func DefaultConfig() Config {
	return Config{
		DailyTTL:     4 * time.Hour,
		IndicatorTTL: 5 * time.Minute,
	}
}

// PriceCache stores one Entry per symbol. Entries are created lazily on the
// first merge and are never evicted by the cache itself; removal is the
// responsibility of whoever owns the symbol lists.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]market.Entry
	cfg     Config
	log     *logger.Logger

	now func() time.Time // overridable in tests
}

// New creates an empty cache.
func New(cfg Config, log *logger.Logger) *PriceCache {
	if cfg.DailyTTL <= 0 {
		cfg.DailyTTL = DefaultConfig().DailyTTL
	}
	if cfg.IndicatorTTL <= 0 {
		cfg.IndicatorTTL = DefaultConfig().IndicatorTTL
	}
	if log == nil {
		log = logger.NewDefault("price-cache")
	}
	return &PriceCache{
		entries: make(map[string]market.Entry),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Get returns a copy of the cached entry for the symbol.
func (c *PriceCache) Get(symbol string) (market.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e, ok
}

// Symbols lists every symbol currently cached.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	return out
}

// Len reports the number of cached entries.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Remove drops a symbol from the cache. Called by the symbol-list owner when
// a symbol leaves both the portfolio and every watchlist.
func (c *PriceCache) Remove(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}

// MergeQuote writes the live quote fields for a symbol. The write is rejected
// when the incoming market timestamp is not strictly newer than the cached
// one, so an out-of-order report from a slower source can never clobber
// fresher data.
func (c *PriceCache) MergeQuote(symbol string, q market.Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[symbol]
	if entry.Quote.MarketTimestamp != 0 && q.MarketTimestamp <= entry.Quote.MarketTimestamp {
		c.log.WithField("symbol", symbol).
			WithField("incoming", q.MarketTimestamp).
			WithField("cached", entry.Quote.MarketTimestamp).
			Debug("stale quote skipped")
		return false
	}

	entry.Symbol = symbol
	entry.Quote = q
	entry.LastUpdate.Quote = c.now()
	c.entries[symbol] = entry
	return true
}

// MergeDaily writes the daily aggregates for a symbol, preserving the other
// categories.
func (c *PriceCache) MergeDaily(symbol string, d market.DailyMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[symbol]
	entry.Symbol = symbol
	entry.DailyMetrics = d
	entry.LastUpdate.Daily = c.now()
	c.entries[symbol] = entry
}

// MergeIndicators writes the fast-cycle indicator values for a symbol.
func (c *PriceCache) MergeIndicators(symbol string, ind market.Indicators) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[symbol]
	entry.Symbol = symbol
	entry.Indicators = ind
	entry.LastUpdate.Indicators = c.now()
	c.entries[symbol] = entry
}

// MergeRating stores the scraped analyst rating. Best effort only.
func (c *PriceCache) MergeRating(symbol, rating string) {
	if rating == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[symbol]
	entry.Symbol = symbol
	entry.Rating = rating
	c.entries[symbol] = entry
}

// ApplyTick folds a real-time trade into the live quote fields and reports
// the price direction relative to the previously cached price. The same
// monotonic-timestamp guard as MergeQuote applies; ticks carry millisecond
// timestamps which are truncated to seconds for comparison.
func (c *PriceCache) ApplyTick(tick market.Tick) (market.Direction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[tick.Symbol]
	marketTime := tick.Timestamp / 1000
	if entry.Quote.MarketTimestamp != 0 && marketTime <= entry.Quote.MarketTimestamp {
		return market.DirectionSame, false
	}

	oldPrice := entry.Quote.Price
	if oldPrice == 0 {
		oldPrice = tick.Price
	}
	previousClose := entry.Quote.PreviousClose
	if previousClose == 0 {
		previousClose = oldPrice
	}

	entry.Symbol = tick.Symbol
	entry.Quote.Price = tick.Price
	entry.Quote.PreviousClose = previousClose
	if previousClose != 0 {
		entry.Quote.DailyChangePct = (tick.Price - previousClose) / previousClose * 100
		entry.Quote.DailyChangeAbs = tick.Price - previousClose
	}
	entry.Quote.MarketTimestamp = marketTime
	entry.Quote.Source = market.SourcePushFeed
	if entry.Quote.DayHigh == 0 || tick.Price > entry.Quote.DayHigh {
		entry.Quote.DayHigh = tick.Price
	}
	if entry.Quote.DayLow == 0 || tick.Price < entry.Quote.DayLow {
		entry.Quote.DayLow = tick.Price
	}
	entry.DailyMetrics.Volume += tick.Volume
	entry.LastUpdate.Quote = c.now()
	c.entries[tick.Symbol] = entry

	switch {
	case tick.Price > oldPrice:
		return market.DirectionUp, true
	case tick.Price < oldPrice:
		return market.DirectionDown, true
	default:
		return market.DirectionSame, true
	}
}

// IsStale reports whether the category needs a refresh for the symbol.
//
// Quotes are always considered stale: the REST quote call is the backstop for
// the push feed and runs on every cycle. Daily data goes stale on calendar
// rollover or after its TTL, whichever happens first. Indicators go stale
// purely on their short TTL.
func (c *PriceCache) IsStale(symbol string, cat Category) bool {
	if cat == CategoryQuote {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return true
	}
	now := c.now()

	switch cat {
	case CategoryDaily:
		last := entry.LastUpdate.Daily
		if last.IsZero() {
			return true
		}
		ly, lm, ld := last.Local().Date()
		ny, nm, nd := now.Local().Date()
		if ly != ny || lm != nm || ld != nd {
			return true
		}
		return now.Sub(last) > c.cfg.DailyTTL
	case CategoryIndicators:
		last := entry.LastUpdate.Indicators
		if last.IsZero() {
			return true
		}
		return now.Sub(last) > c.cfg.IndicatorTTL
	default:
		return true
	}
}

// Snapshot exports the full cache state for persistence.
func (c *PriceCache) Snapshot() market.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make(map[string]market.Entry, len(c.entries))
	for s, e := range c.entries {
		entries[s] = e
	}
	return market.Snapshot{TakenAt: c.now(), Entries: entries}
}

// Restore loads a previously persisted snapshot, replacing current contents.
// Freshness timestamps are kept as stored so TTL rules apply immediately.
func (c *PriceCache) Restore(snap market.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]market.Entry, len(snap.Entries))
	for s, e := range snap.Entries {
		e.Symbol = s
		c.entries[s] = e
	}
}
