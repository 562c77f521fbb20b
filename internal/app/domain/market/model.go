// Package market defines the quote, daily-metrics and indicator types shared
// by the cache, the source adapters and the refresh orchestrator.
package market

import "time"

// SourceKind identifies which upstream produced a quote.
type SourceKind string

const (
	SourcePrimary  SourceKind = "primary"
	SourcePushFeed SourceKind = "pushfeed"
	SourceFallback SourceKind = "fallback"
)

// Direction describes a price move relative to the previous cached price.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionSame Direction = "same"
)

// MinIndicatorHistory is the minimum number of closes required before MACD
// and the other series indicators can be derived locally.
const MinIndicatorHistory = 26

// Quote holds the live price fields for a symbol. MarketTimestamp is epoch
// seconds as reported by the upstream and must never move backwards for a
// given symbol.
type Quote struct {
	Price           float64    `json:"price"`
	PreviousClose   float64    `json:"previousClose"`
	DailyChangePct  float64    `json:"dailyChangePct"`
	DailyChangeAbs  float64    `json:"dailyChangeAbs"`
	DayHigh         float64    `json:"dayHigh"`
	DayLow          float64    `json:"dayLow"`
	MarketTimestamp int64      `json:"marketTimestamp"`
	Source          SourceKind `json:"source"`
}

// Candle is one day of OHLCV history.
type Candle struct {
	Date   time.Time `json:"date"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DailyMetrics holds the slow-moving aggregates refreshed at most once per
// trading day. History is ordered ascending by date.
type DailyMetrics struct {
	Week52High float64  `json:"week52High"`
	Week52Low  float64  `json:"week52Low"`
	Volume     float64  `json:"volume"`
	AvgVolume  float64  `json:"avgVolume"`
	SMA200     float64  `json:"sma200"`
	History    []Candle `json:"history,omitempty"`
}

// Closes returns the close series from History.
func (d DailyMetrics) Closes() []float64 {
	out := make([]float64, 0, len(d.History))
	for _, c := range d.History {
		out = append(out, c.Close)
	}
	return out
}

// HighsLowsCloses returns the three parallel series used by the stochastic
// oscillator.
func (d DailyMetrics) HighsLowsCloses() (highs, lows, closes []float64) {
	highs = make([]float64, 0, len(d.History))
	lows = make([]float64, 0, len(d.History))
	closes = make([]float64, 0, len(d.History))
	for _, c := range d.History {
		highs = append(highs, c.High)
		lows = append(lows, c.Low)
		closes = append(closes, c.Close)
	}
	return highs, lows, closes
}

// Indicators holds the fast-cycle technical values. Nil means "not
// available", which renders as a blank cell rather than zero.
type Indicators struct {
	MACD        *float64 `json:"macd,omitempty"`
	StochasticK *float64 `json:"stochasticK,omitempty"`
	StochasticD *float64 `json:"stochasticD,omitempty"`
}

// Freshness records when each cache category was last merged.
type Freshness struct {
	Quote      time.Time `json:"quote"`
	Daily      time.Time `json:"daily"`
	Indicators time.Time `json:"indicators"`
}

// Entry is the full cached record for one symbol.
type Entry struct {
	Symbol       string       `json:"symbol"`
	Quote        Quote        `json:"quote"`
	DailyMetrics DailyMetrics `json:"dailyMetrics"`
	Indicators   Indicators   `json:"indicators"`
	Rating       string       `json:"rating,omitempty"`
	LastUpdate   Freshness    `json:"lastUpdate"`
}

// Snapshot is the serialisable state of the whole cache, persisted once per
// refresh cycle.
type Snapshot struct {
	TakenAt time.Time        `json:"takenAt"`
	Entries map[string]Entry `json:"entries"`
}

// Tick is a single real-time trade from the push feed. Timestamp is epoch
// milliseconds as delivered on the wire.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Volume    float64 `json:"volume"`
}
