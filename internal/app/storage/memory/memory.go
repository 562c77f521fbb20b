// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/portfolio"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/watchlist"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
)

// Store is the in-memory implementation of every storage interface.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	movements  map[string]portfolio.Movement
	watchlists map[string]watchlist.Watchlist
	snapshot   *market.Snapshot
}

var _ storage.MovementStore = (*Store)(nil)
var _ storage.WatchlistStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		movements:  make(map[string]portfolio.Movement),
		watchlists: make(map[string]watchlist.Watchlist),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// MovementStore implementation ------------------------------------------------

func (s *Store) CreateMovement(_ context.Context, mov portfolio.Movement) (portfolio.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mov.ID == "" {
		mov.ID = s.nextIDLocked()
	} else if _, exists := s.movements[mov.ID]; exists {
		return portfolio.Movement{}, fmt.Errorf("movement %s already exists", mov.ID)
	}
	mov.CreatedAt = time.Now().UTC()

	s.movements[mov.ID] = mov
	return mov, nil
}

func (s *Store) GetMovement(_ context.Context, id string) (portfolio.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mov, ok := s.movements[id]
	if !ok {
		return portfolio.Movement{}, fmt.Errorf("movement %s not found", id)
	}
	return mov, nil
}

func (s *Store) ListMovements(_ context.Context) ([]portfolio.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]portfolio.Movement, 0, len(s.movements))
	for _, mov := range s.movements {
		result = append(result, mov)
	}
	return result, nil
}

func (s *Store) DeleteMovement(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.movements[id]; !ok {
		return fmt.Errorf("movement %s not found", id)
	}
	delete(s.movements, id)
	return nil
}

// WatchlistStore implementation -----------------------------------------------

func (s *Store) CreateWatchlist(_ context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wl.ID == "" {
		wl.ID = s.nextIDLocked()
	} else if _, exists := s.watchlists[wl.ID]; exists {
		return watchlist.Watchlist{}, fmt.Errorf("watchlist %s already exists", wl.ID)
	}

	now := time.Now().UTC()
	wl.CreatedAt = now
	wl.UpdatedAt = now
	wl.Symbols = append([]string(nil), wl.Symbols...)

	s.watchlists[wl.ID] = wl
	return cloneWatchlist(wl), nil
}

func (s *Store) UpdateWatchlist(_ context.Context, wl watchlist.Watchlist) (watchlist.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.watchlists[wl.ID]
	if !ok {
		return watchlist.Watchlist{}, fmt.Errorf("watchlist %s not found", wl.ID)
	}

	wl.CreatedAt = original.CreatedAt
	wl.UpdatedAt = time.Now().UTC()
	wl.Symbols = append([]string(nil), wl.Symbols...)

	s.watchlists[wl.ID] = wl
	return cloneWatchlist(wl), nil
}

func (s *Store) GetWatchlist(_ context.Context, id string) (watchlist.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wl, ok := s.watchlists[id]
	if !ok {
		return watchlist.Watchlist{}, fmt.Errorf("watchlist %s not found", id)
	}
	return cloneWatchlist(wl), nil
}

func (s *Store) ListWatchlists(_ context.Context) ([]watchlist.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]watchlist.Watchlist, 0, len(s.watchlists))
	for _, wl := range s.watchlists {
		result = append(result, cloneWatchlist(wl))
	}
	return result, nil
}

func (s *Store) DeleteWatchlist(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchlists[id]; !ok {
		return fmt.Errorf("watchlist %s not found", id)
	}
	delete(s.watchlists, id)
	return nil
}

// SnapshotStore implementation ------------------------------------------------

func (s *Store) SaveSnapshot(_ context.Context, snap market.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = cloneSnapshot(&snap)
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context) (market.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return market.Snapshot{}, fmt.Errorf("no snapshot stored")
	}
	return *cloneSnapshot(s.snapshot), nil
}

func cloneWatchlist(wl watchlist.Watchlist) watchlist.Watchlist {
	wl.Symbols = append([]string(nil), wl.Symbols...)
	return wl
}

func cloneSnapshot(snap *market.Snapshot) *market.Snapshot {
	clone := market.Snapshot{
		TakenAt: snap.TakenAt,
		Entries: make(map[string]market.Entry, len(snap.Entries)),
	}
	for sym, entry := range snap.Entries {
		clone.Entries[sym] = entry
	}
	return &clone
}
