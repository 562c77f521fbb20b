package refresh

import (
	"context"

	"github.com/tenenciaexterior/marketdata/internal/app/storage"
)

// PortfolioProvider yields the distinct symbols present in the movement
// ledger. Sold-out positions still refresh; the ledger keeps their history.
type PortfolioProvider struct {
	store storage.MovementStore
}

// NewPortfolioProvider creates a provider over the movement store.
func NewPortfolioProvider(store storage.MovementStore) *PortfolioProvider {
	return &PortfolioProvider{store: store}
}

func (p *PortfolioProvider) Symbols(ctx context.Context) ([]string, error) {
	movements, err := p.store.ListMovements(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, mov := range movements {
		if _, dup := seen[mov.Symbol]; dup {
			continue
		}
		seen[mov.Symbol] = struct{}{}
		out = append(out, mov.Symbol)
	}
	return out, nil
}

// WatchlistProvider yields the union of symbols across every stored
// watchlist.
type WatchlistProvider struct {
	store storage.WatchlistStore
}

// NewWatchlistProvider creates a provider over the watchlist store.
func NewWatchlistProvider(store storage.WatchlistStore) *WatchlistProvider {
	return &WatchlistProvider{store: store}
}

func (p *WatchlistProvider) Symbols(ctx context.Context) ([]string, error) {
	lists, err := p.store.ListWatchlists(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, wl := range lists {
		for _, s := range wl.Symbols {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

var _ SymbolProvider = (*PortfolioProvider)(nil)
var _ SymbolProvider = (*WatchlistProvider)(nil)
