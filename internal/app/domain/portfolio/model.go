// Package portfolio defines the movement ledger. The market data core only
// reads the distinct symbols; gain accounting lives outside this module.
package portfolio

import "time"

// Side distinguishes buys from sells.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Movement is one recorded buy or sell.
type Movement struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}
