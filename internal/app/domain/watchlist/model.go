// Package watchlist defines named symbol lists tracked alongside the
// portfolio.
package watchlist

import "time"

// Watchlist is a named, ordered set of symbols.
type Watchlist struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Icon        string    `json:"icon,omitempty"`
	Symbols     []string  `json:"symbols"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
