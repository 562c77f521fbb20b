package storage

import (
	"context"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/portfolio"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/watchlist"
)

// MovementStore persists portfolio movements (buys and sells).
type MovementStore interface {
	CreateMovement(ctx context.Context, mov portfolio.Movement) (portfolio.Movement, error)
	GetMovement(ctx context.Context, id string) (portfolio.Movement, error)
	ListMovements(ctx context.Context) ([]portfolio.Movement, error)
	DeleteMovement(ctx context.Context, id string) error
}

// WatchlistStore persists named watchlists.
type WatchlistStore interface {
	CreateWatchlist(ctx context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error)
	UpdateWatchlist(ctx context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error)
	GetWatchlist(ctx context.Context, id string) (watchlist.Watchlist, error)
	ListWatchlists(ctx context.Context) ([]watchlist.Watchlist, error)
	DeleteWatchlist(ctx context.Context, id string) error
}

// SnapshotStore persists the latest market cache snapshot so a restart can
// serve prices before the first refresh cycle finishes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap market.Snapshot) error
	LoadSnapshot(ctx context.Context) (market.Snapshot, error)
}
