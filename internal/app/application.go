package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/fetch"
	"github.com/tenenciaexterior/marketdata/internal/app/services/refresh"
	"github.com/tenenciaexterior/marketdata/internal/app/services/stream"
	"github.com/tenenciaexterior/marketdata/internal/app/sources"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
	"github.com/tenenciaexterior/marketdata/internal/app/storage/memory"
	"github.com/tenenciaexterior/marketdata/internal/app/system"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Movements  storage.MovementStore
	Watchlists storage.WatchlistStore
	Snapshots  storage.SnapshotStore
}

// Options carries deployment-specific knobs. Zero values get sensible
// defaults.
type Options struct {
	FinnhubBaseURL string
	FinnhubAPIKey  string
	YahooProxies   []sources.Proxy
	StreamURL      string

	RefreshSchedule string
	InterCallDelay  time.Duration
	BatchSize       int
	DailyTTL        time.Duration
	IndicatorTTL    time.Duration

	StreamMaxAttempts int
}

// Application ties the market data services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Cache        *cache.PriceCache
	Orchestrator *refresh.Orchestrator
	Runner       *refresh.Runner
	Stream       *stream.Manager
	Stores       Stores
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Movements == nil {
		stores.Movements = mem
	}
	if stores.Watchlists == nil {
		stores.Watchlists = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}

	manager := system.NewManager()

	priceCache := cache.New(cache.Config{
		DailyTTL:     opts.DailyTTL,
		IndicatorTTL: opts.IndicatorTTL,
	}, log.Named("price-cache"))

	queue := fetch.NewQueue(opts.InterCallDelay, log.Named("fetch-queue"))

	finnhub := sources.NewFinnhubClient(sources.FinnhubConfig{
		BaseURL: opts.FinnhubBaseURL,
		APIKey:  opts.FinnhubAPIKey,
	}, log.Named("finnhub"))
	yahoo := sources.NewYahooClient(sources.YahooConfig{
		Proxies: opts.YahooProxies,
	}, log.Named("yahoo"))
	rating := sources.NewRatingScraper(sources.YahooConfig{
		Proxies: opts.YahooProxies,
	}, log.Named("rating-scraper"))

	orch := refresh.New(priceCache, queue, refresh.Sources{
		Primary:  finnhub,
		Fallback: yahoo,
		Rating:   rating,
	}, log.Named("refresh"))
	if opts.BatchSize > 0 {
		orch.SetBatchSize(opts.BatchSize)
	}
	orch.AddProvider(refresh.NewPortfolioProvider(stores.Movements))
	orch.AddProvider(refresh.NewWatchlistProvider(stores.Watchlists))
	orch.WithSnapshots(stores.Snapshots)

	runner, err := refresh.NewRunner(orch, opts.RefreshSchedule, log.Named("refresh-runner"))
	if err != nil {
		return nil, err
	}

	var streamMgr *stream.Manager
	if opts.StreamURL != "" {
		streamMgr = stream.NewManager(stream.Config{
			URL:         opts.StreamURL,
			MaxAttempts: opts.StreamMaxAttempts,
		}, priceCache, log.Named("stream"))
		streamMgr.WithSignal(runner)
		// the orchestrator keeps the feed subscriptions in step with the
		// portfolio and watchlist symbol set on every cycle
		orch.WithSubscriber(streamMgr)
	} else {
		log.Warn("no stream URL configured; push feed disabled")
	}

	services := []system.Service{runner}
	if streamMgr != nil {
		services = append(services, streamMgr)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Cache:        priceCache,
		Orchestrator: orch,
		Runner:       runner,
		Stream:       streamMgr,
		Stores:       stores,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start restores the last snapshot and begins all registered services. The
// runner's startup cycle then subscribes the feed to the tracked symbol set.
func (a *Application) Start(ctx context.Context) error {
	if snap, err := a.Stores.Snapshots.LoadSnapshot(ctx); err == nil {
		a.Cache.Restore(snap)
		a.log.WithField("symbols", len(snap.Entries)).Info("cache restored from snapshot")
	}

	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
