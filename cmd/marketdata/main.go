// Package main runs the market data server: the refresh orchestrator, the
// push-feed manager and the REST read API over the price cache.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/tenenciaexterior/marketdata/internal/app"
	"github.com/tenenciaexterior/marketdata/internal/app/httpapi"
	"github.com/tenenciaexterior/marketdata/internal/app/sources"
	"github.com/tenenciaexterior/marketdata/internal/app/storage/postgres"
	redisstore "github.com/tenenciaexterior/marketdata/internal/app/storage/redis"
	"github.com/tenenciaexterior/marketdata/internal/config"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("main").WithError(err).Fatal("load configuration")
	}

	log := logger.New(cfg.Logging).Named("main")

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("configure storage")
	}
	defer cleanup()

	var proxies []sources.Proxy
	for _, prefix := range cfg.Yahoo.ProxyPrefixes {
		proxies = append(proxies, sources.RelayProxy(prefix))
	}

	application, err := app.New(stores, app.Options{
		FinnhubBaseURL:    cfg.Finnhub.BaseURL,
		FinnhubAPIKey:     cfg.Finnhub.APIKey,
		YahooProxies:      proxies,
		StreamURL:         cfg.Stream.URL,
		RefreshSchedule:   cfg.Refresh.Schedule,
		InterCallDelay:    cfg.Refresh.InterCallDelay,
		BatchSize:         cfg.Refresh.BatchSize,
		DailyTTL:          cfg.Refresh.DailyTTL,
		IndicatorTTL:      cfg.Refresh.IndicatorTTL,
		StreamMaxAttempts: cfg.Stream.MaxAttempts,
	}, log.Named("app"))
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}
	log.WithField("addr", cfg.Server.Addr).Info("market data server started")

	handler := httpapi.NewHandler(httpapi.Deps{
		Cache:        application.Cache,
		Orchestrator: application.Orchestrator,
		Stream:       application.Stream,
		Movements:    application.Stores.Movements,
		Watchlists:   application.Stores.Watchlists,
		Log:          log.Named("httpapi"),
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("market data server stopped")
}

// buildStores wires the configured persistence backend. Every backend keeps
// movements and watchlists queryable; redis only carries the snapshot, so it
// pairs with the in-memory stores.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	cleanup := func() {}

	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.Open(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			store.Close()
			return app.Stores{}, cleanup, err
		}
		cleanup = func() { store.Close() }
		return app.Stores{Movements: store, Watchlists: store, Snapshots: store}, cleanup, nil

	case "redis":
		snaps, err := redisstore.New(context.Background(), redisstore.Config{
			Addr: cfg.Storage.RedisAddr,
			DB:   cfg.Storage.RedisDB,
		})
		if err != nil {
			return app.Stores{}, cleanup, err
		}
		cleanup = func() { snaps.Close() }
		return app.Stores{Snapshots: snaps}, cleanup, nil

	default:
		log.Info("using in-memory storage")
		return app.Stores{}, cleanup, nil
	}
}
