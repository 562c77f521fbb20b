// Package refresh coordinates full refresh cycles: it computes the target
// symbol set, fans the fetches out in paced batches, merges results into the
// cache and persists a single snapshot per cycle.
package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/fetch"
	"github.com/tenenciaexterior/marketdata/internal/app/indicators"
	"github.com/tenenciaexterior/marketdata/internal/app/metrics"
	"github.com/tenenciaexterior/marketdata/internal/app/sources"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// ErrCycleRunning is returned when a refresh is requested while another cycle
// is still in flight. The request is dropped, not queued.
var ErrCycleRunning = errors.New("refresh cycle already running")

// SymbolProvider yields the symbols a collaborator wants refreshed. The
// orchestrator refreshes the union across all providers.
type SymbolProvider interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Notifier receives exactly one callback per completed cycle.
type Notifier interface {
	CycleComplete(report CycleReport)
}

// Subscriber tracks the live symbol set on the push feed. Subscribe and
// Unsubscribe are ref-counted by the implementation.
type Subscriber interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// QuoteSource fetches the live quote for a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// DailySource fetches the daily aggregates for a symbol.
type DailySource interface {
	Daily(ctx context.Context, symbol string) (market.DailyMetrics, error)
}

// IndicatorSource fetches provider-computed indicator values.
type IndicatorSource interface {
	MACD(ctx context.Context, symbol string) (float64, error)
	SMA(ctx context.Context, symbol string, period int) (float64, error)
}

// RatingSource fetches the analyst consensus rating.
type RatingSource interface {
	Fetch(ctx context.Context, symbol string) (string, error)
}

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Symbols   int           `json:"symbols"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Sources bundles the upstream adapters in fallback order. Primary must
// implement the full surface; the fallback only needs quotes and dailies.
type Sources struct {
	Primary interface {
		QuoteSource
		DailySource
		IndicatorSource
	}
	Fallback interface {
		QuoteSource
		DailySource
	}
	Rating RatingSource
}

// Orchestrator runs refresh cycles. At most one cycle is in flight at a time;
// concurrent requests are rejected.
type Orchestrator struct {
	cache     *cache.PriceCache
	queue     *fetch.Queue
	srcs      Sources
	providers  []SymbolProvider
	snapshots  storage.SnapshotStore
	notifier   Notifier
	subscriber Subscriber
	log        *logger.Logger

	batchSize int
	running   int32

	// prevSymbols is the symbol set of the last completed cycle. Only the
	// cycle holding the running flag touches it.
	prevSymbols map[string]struct{}
}

// New creates an orchestrator. Snapshots and notifier may be nil; the
// corresponding step is skipped.
func New(priceCache *cache.PriceCache, queue *fetch.Queue, srcs Sources, log *logger.Logger) *Orchestrator {
	if queue == nil {
		queue = fetch.NewQueue(fetch.DefaultInterCallDelay, log)
	}
	if log == nil {
		log = logger.NewDefault("refresh")
	}
	return &Orchestrator{
		cache:     priceCache,
		queue:     queue,
		srcs:      srcs,
		log:       log,
		batchSize: fetch.DefaultBatchSize,
	}
}

// AddProvider registers a symbol provider. Call before the first cycle.
func (o *Orchestrator) AddProvider(p SymbolProvider) { o.providers = append(o.providers, p) }

// SetBatchSize overrides the batch fan-out width. Call before the first cycle.
func (o *Orchestrator) SetBatchSize(size int) {
	if size > 0 {
		o.batchSize = size
	}
}

// WithSnapshots sets the per-cycle snapshot sink.
func (o *Orchestrator) WithSnapshots(store storage.SnapshotStore) { o.snapshots = store }

// WithNotifier sets the per-cycle completion callback.
func (o *Orchestrator) WithNotifier(n Notifier) { o.notifier = n }

// WithSubscriber sets the push-feed subscription sink kept in step with the
// cycle symbol set.
func (o *Orchestrator) WithSubscriber(s Subscriber) { o.subscriber = s }

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool { return atomic.LoadInt32(&o.running) == 1 }

// RunCycle executes one full refresh over the union of all provider symbol
// sets. A second call while a cycle is in flight returns ErrCycleRunning
// immediately without touching the running cycle.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) (CycleReport, error) {
	if !atomic.CompareAndSwapInt32(&o.running, 0, 1) {
		o.log.WithField("trigger", trigger).Info("refresh already running, request dropped")
		metrics.RecordRefreshSkipped()
		return CycleReport{}, ErrCycleRunning
	}
	defer atomic.StoreInt32(&o.running, 0)

	report := CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	symbols, err := o.symbolSet(ctx)
	if err != nil {
		return report, err
	}
	report.Symbols = len(symbols)
	o.reconcileSymbols(symbols)

	results := o.queue.RunBatches(ctx, symbols, o.batchSize, o.refreshSymbol)
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
			o.log.WithError(res.Err).WithField("symbol", res.Symbol).Warn("symbol refresh failed")
		} else {
			report.Succeeded++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	// Persist and notify once per cycle, never per symbol.
	if o.snapshots != nil {
		if err := o.snapshots.SaveSnapshot(ctx, o.cache.Snapshot()); err != nil {
			o.log.WithError(err).Warn("snapshot persist failed")
		}
	}
	if o.notifier != nil {
		o.notifier.CycleComplete(report)
	}

	metrics.RecordRefreshCycle(trigger, report.Duration)
	o.log.WithField("cycle", report.ID).
		WithField("symbols", report.Symbols).
		WithField("succeeded", report.Succeeded).
		WithField("failed", report.Failed).
		Info("refresh cycle complete")
	return report, nil
}

// symbolSet unions, normalises and dedupes the provider symbol lists,
// preserving first-seen order.
func (o *Orchestrator) symbolSet(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range o.providers {
		symbols, err := p.Symbols(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range symbols {
			s = sources.NormalizeSymbol(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// reconcileSymbols diffs the cycle's symbol set against the previous one.
// Arrivals join the push feed; departures leave it and are evicted from the
// cache so the next snapshot no longer carries them.
func (o *Orchestrator) reconcileSymbols(symbols []string) {
	current := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		current[s] = struct{}{}
		if _, known := o.prevSymbols[s]; !known && o.subscriber != nil {
			o.subscriber.Subscribe(s)
		}
	}
	for s := range o.prevSymbols {
		if _, still := current[s]; still {
			continue
		}
		if o.subscriber != nil {
			o.subscriber.Unsubscribe(s)
		}
		o.cache.Remove(s)
		o.log.WithField("symbol", s).Info("symbol left the tracked set")
	}
	o.prevSymbols = current
}

// refreshSymbol refreshes one symbol: quote always, daily and indicators only
// when stale. A total failure leaves the previous cache entry untouched.
func (o *Orchestrator) refreshSymbol(ctx context.Context, symbol string) error {
	quoteErr := o.refreshQuote(ctx, symbol)

	var history []market.Candle
	if o.cache.IsStale(symbol, cache.CategoryDaily) {
		history = o.refreshDaily(ctx, symbol)
	} else if entry, ok := o.cache.Get(symbol); ok {
		history = entry.DailyMetrics.History
	}

	if o.cache.IsStale(symbol, cache.CategoryIndicators) {
		o.refreshIndicators(ctx, symbol, history)
	}

	return quoteErr
}

func (o *Orchestrator) refreshQuote(ctx context.Context, symbol string) error {
	attempts := []sources.Attempt[market.Quote]{}
	if o.srcs.Primary != nil {
		attempts = append(attempts, sources.Attempt[market.Quote]{
			Name: "primary",
			Run: func(ctx context.Context) (market.Quote, error) {
				q, err := o.srcs.Primary.Quote(ctx, symbol)
				metrics.RecordSourceRequest("primary", err)
				return q, err
			},
		})
	}
	if o.srcs.Fallback != nil {
		attempts = append(attempts, sources.Attempt[market.Quote]{
			Name: "fallback",
			Run: func(ctx context.Context) (market.Quote, error) {
				q, err := o.srcs.Fallback.Quote(ctx, symbol)
				metrics.RecordSourceRequest("fallback", err)
				return q, err
			},
		})
	}

	quote, err := sources.First(ctx, o.log, attempts...)
	if err != nil {
		return err
	}
	o.cache.MergeQuote(symbol, quote)
	return nil
}

// refreshDaily fetches the daily aggregates through the fallback chain and
// returns whatever candle history it obtained for local indicator math.
func (o *Orchestrator) refreshDaily(ctx context.Context, symbol string) []market.Candle {
	attempts := []sources.Attempt[market.DailyMetrics]{}
	if o.srcs.Primary != nil {
		attempts = append(attempts, sources.Attempt[market.DailyMetrics]{
			Name: "primary",
			Run: func(ctx context.Context) (market.DailyMetrics, error) {
				d, err := o.srcs.Primary.Daily(ctx, symbol)
				metrics.RecordSourceRequest("primary", err)
				return d, err
			},
		})
	}
	if o.srcs.Fallback != nil {
		attempts = append(attempts, sources.Attempt[market.DailyMetrics]{
			Name: "fallback",
			Run: func(ctx context.Context) (market.DailyMetrics, error) {
				d, err := o.srcs.Fallback.Daily(ctx, symbol)
				metrics.RecordSourceRequest("fallback", err)
				return d, err
			},
		})
	}

	daily, err := sources.First(ctx, o.log, attempts...)
	if err != nil {
		// Stale daily data stays in place.
		o.log.WithError(err).WithField("symbol", symbol).Debug("daily refresh failed, keeping cached data")
		if entry, ok := o.cache.Get(symbol); ok {
			return entry.DailyMetrics.History
		}
		return nil
	}

	if daily.SMA200 == 0 {
		daily.SMA200 = o.sma200(ctx, symbol, daily.Closes())
	}
	o.cache.MergeDaily(symbol, daily)
	o.refreshRating(ctx, symbol)
	return daily.History
}

// sma200 prefers the provider-computed value and falls back to local math
// when the call fails and enough history is on hand.
func (o *Orchestrator) sma200(ctx context.Context, symbol string, closes []float64) float64 {
	if o.srcs.Primary != nil {
		if v, err := o.srcs.Primary.SMA(ctx, symbol, indicators.SMA200Period); err == nil && v != 0 {
			return v
		}
	}
	if v, ok := indicators.SMA(closes, indicators.SMA200Period); ok {
		return v
	}
	return 0
}

// refreshIndicators fills the fast-cycle indicators, preferring upstream
// values and degrading to local computation over the candle history.
func (o *Orchestrator) refreshIndicators(ctx context.Context, symbol string, history []market.Candle) {
	var ind market.Indicators

	var macdOK bool
	if o.srcs.Primary != nil {
		if v, err := o.srcs.Primary.MACD(ctx, symbol); err == nil {
			ind.MACD = &v
			macdOK = true
		}
	}

	if len(history) >= market.MinIndicatorHistory {
		closes := make([]float64, len(history))
		highs := make([]float64, len(history))
		lows := make([]float64, len(history))
		for i, c := range history {
			closes[i] = c.Close
			highs[i] = c.High
			lows[i] = c.Low
		}

		if !macdOK {
			if v, ok := indicators.MACD(closes); ok {
				ind.MACD = &v
			}
		}
		if st, ok := indicators.Stochastic(highs, lows, closes, indicators.StochasticPeriodK, indicators.StochasticPeriodD); ok {
			k := st.K
			ind.StochasticK = &k
			ind.StochasticD = st.D
		}
	}

	if ind.MACD == nil && ind.StochasticK == nil {
		// Nothing to merge; cached indicators stay as they were.
		return
	}

	// A partial result must not null out the values it did not produce.
	if entry, ok := o.cache.Get(symbol); ok {
		if ind.MACD == nil {
			ind.MACD = entry.Indicators.MACD
		}
		if ind.StochasticK == nil {
			ind.StochasticK = entry.Indicators.StochasticK
			ind.StochasticD = entry.Indicators.StochasticD
		}
	}
	o.cache.MergeIndicators(symbol, ind)
}

// refreshRating is best effort and rides along with the daily refresh cadence.
func (o *Orchestrator) refreshRating(ctx context.Context, symbol string) {
	if o.srcs.Rating == nil {
		return
	}
	rating, err := o.srcs.Rating.Fetch(ctx, symbol)
	if err != nil {
		o.log.WithError(err).WithField("symbol", symbol).Debug("rating fetch failed")
		return
	}
	o.cache.MergeRating(symbol, rating)
}
