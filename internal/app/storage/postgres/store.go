// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/portfolio"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/watchlist"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.MovementStore = (*Store)(nil)
var _ storage.WatchlistStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables when they do not exist yet. Safe to call on
// every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS movements (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			side       TEXT NOT NULL,
			quantity   DOUBLE PRECISION NOT NULL,
			price      DOUBLE PRECISION NOT NULL,
			date       TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS watchlists (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			icon         TEXT NOT NULL DEFAULT '',
			symbols      TEXT[] NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS market_snapshots (
			id       TEXT PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL,
			entries  JSONB NOT NULL
		);
	`)
	return err
}

// --- MovementStore ----------------------------------------------------------

func (s *Store) CreateMovement(ctx context.Context, mov portfolio.Movement) (portfolio.Movement, error) {
	if mov.ID == "" {
		mov.ID = uuid.NewString()
	}
	mov.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movements (id, symbol, side, quantity, price, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, mov.ID, mov.Symbol, string(mov.Side), mov.Quantity, mov.Price, mov.Date, mov.CreatedAt)
	if err != nil {
		return portfolio.Movement{}, err
	}
	return mov, nil
}

func (s *Store) GetMovement(ctx context.Context, id string) (portfolio.Movement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, quantity, price, date, created_at
		FROM movements
		WHERE id = $1
	`, id)

	var mov portfolio.Movement
	var side string
	if err := row.Scan(&mov.ID, &mov.Symbol, &side, &mov.Quantity, &mov.Price, &mov.Date, &mov.CreatedAt); err != nil {
		return portfolio.Movement{}, err
	}
	mov.Side = portfolio.Side(side)
	return mov, nil
}

func (s *Store) ListMovements(ctx context.Context) ([]portfolio.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, date, created_at
		FROM movements
		ORDER BY date, created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []portfolio.Movement
	for rows.Next() {
		var mov portfolio.Movement
		var side string
		if err := rows.Scan(&mov.ID, &mov.Symbol, &side, &mov.Quantity, &mov.Price, &mov.Date, &mov.CreatedAt); err != nil {
			return nil, err
		}
		mov.Side = portfolio.Side(side)
		result = append(result, mov)
	}
	return result, rows.Err()
}

func (s *Store) DeleteMovement(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM movements WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- WatchlistStore ---------------------------------------------------------

func (s *Store) CreateWatchlist(ctx context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error) {
	if wl.ID == "" {
		wl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	wl.CreatedAt = now
	wl.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlists (id, display_name, icon, symbols, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, wl.ID, wl.DisplayName, wl.Icon, pq.Array(wl.Symbols), wl.CreatedAt, wl.UpdatedAt)
	if err != nil {
		return watchlist.Watchlist{}, err
	}
	return wl, nil
}

func (s *Store) UpdateWatchlist(ctx context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error) {
	existing, err := s.GetWatchlist(ctx, wl.ID)
	if err != nil {
		return watchlist.Watchlist{}, err
	}

	wl.CreatedAt = existing.CreatedAt
	wl.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE watchlists
		SET display_name = $2, icon = $3, symbols = $4, updated_at = $5
		WHERE id = $1
	`, wl.ID, wl.DisplayName, wl.Icon, pq.Array(wl.Symbols), wl.UpdatedAt)
	if err != nil {
		return watchlist.Watchlist{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return watchlist.Watchlist{}, sql.ErrNoRows
	}
	return wl, nil
}

func (s *Store) GetWatchlist(ctx context.Context, id string) (watchlist.Watchlist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, icon, symbols, created_at, updated_at
		FROM watchlists
		WHERE id = $1
	`, id)

	var wl watchlist.Watchlist
	if err := row.Scan(&wl.ID, &wl.DisplayName, &wl.Icon, pq.Array(&wl.Symbols), &wl.CreatedAt, &wl.UpdatedAt); err != nil {
		return watchlist.Watchlist{}, err
	}
	return wl, nil
}

func (s *Store) ListWatchlists(ctx context.Context) ([]watchlist.Watchlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, icon, symbols, created_at, updated_at
		FROM watchlists
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []watchlist.Watchlist
	for rows.Next() {
		var wl watchlist.Watchlist
		if err := rows.Scan(&wl.ID, &wl.DisplayName, &wl.Icon, pq.Array(&wl.Symbols), &wl.CreatedAt, &wl.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, wl)
	}
	return result, rows.Err()
}

func (s *Store) DeleteWatchlist(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlists WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SnapshotStore ----------------------------------------------------------

// The snapshot table holds a single row; each save replaces it.
const snapshotRowID = "latest"

func (s *Store) SaveSnapshot(ctx context.Context, snap market.Snapshot) error {
	entriesJSON, err := json.Marshal(snap.Entries)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (id, taken_at, entries)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET taken_at = $2, entries = $3
	`, snapshotRowID, snap.TakenAt, entriesJSON)
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context) (market.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT taken_at, entries
		FROM market_snapshots
		WHERE id = $1
	`, snapshotRowID)

	var snap market.Snapshot
	var entriesRaw []byte
	if err := row.Scan(&snap.TakenAt, &entriesRaw); err != nil {
		return market.Snapshot{}, err
	}
	if len(entriesRaw) > 0 {
		if err := json.Unmarshal(entriesRaw, &snap.Entries); err != nil {
			return market.Snapshot{}, err
		}
	}
	return snap, nil
}
