package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

const (
	finnhubDefaultBaseURL = "https://finnhub.io/api/v1"

	// candleLookback covers a full trading year so the 52-week range can be
	// derived from the candle arrays.
	candleLookback = 365 * 24 * time.Hour

	// avgVolumeWindow is how many recent sessions feed the average volume.
	avgVolumeWindow = 60

	maxResponseBytes = 4 << 20
)

// FinnhubClient is the primary quote and historical data adapter.
type FinnhubClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger

	now func() time.Time
}

// FinnhubConfig configures the primary adapter.
type FinnhubConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewFinnhubClient creates the primary adapter.
func NewFinnhubClient(cfg FinnhubConfig, log *logger.Logger) *FinnhubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = finnhubDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("finnhub")
	}
	return &FinnhubClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
		now:        time.Now,
	}
}

// Quote fetches the live quote. A zero price is the provider's sentinel for
// "unknown symbol or no data" and is reported as ErrNoData.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var payload struct {
		Current       float64 `json:"c"`
		High          float64 `json:"h"`
		Low           float64 `json:"l"`
		PreviousClose float64 `json:"pc"`
		Timestamp     int64   `json:"t"`
	}
	if err := c.getJSON(ctx, "/quote", url.Values{"symbol": {symbol}}, &payload); err != nil {
		return market.Quote{}, err
	}
	if payload.Current == 0 {
		return market.Quote{}, fmt.Errorf("quote for %s: %w", symbol, ErrNoData)
	}

	q := market.Quote{
		Price:           payload.Current,
		PreviousClose:   payload.PreviousClose,
		DayHigh:         payload.High,
		DayLow:          payload.Low,
		MarketTimestamp: payload.Timestamp,
		Source:          market.SourcePrimary,
	}
	if payload.PreviousClose != 0 {
		q.DailyChangePct = (payload.Current - payload.PreviousClose) / payload.PreviousClose * 100
		q.DailyChangeAbs = payload.Current - payload.PreviousClose
	}
	return q, nil
}

// Daily fetches one year of daily candles and derives the 52-week range,
// current volume and the average volume over the recent sessions.
func (c *FinnhubClient) Daily(ctx context.Context, symbol string) (market.DailyMetrics, error) {
	now := c.now().Unix()
	from := c.now().Add(-candleLookback).Unix()

	var payload struct {
		Status     string    `json:"s"`
		Timestamps []int64   `json:"t"`
		Highs      []float64 `json:"h"`
		Lows       []float64 `json:"l"`
		Closes     []float64 `json:"c"`
		Volumes    []float64 `json:"v"`
	}
	params := url.Values{
		"symbol":     {symbol},
		"resolution": {"D"},
		"from":       {fmt.Sprintf("%d", from)},
		"to":         {fmt.Sprintf("%d", now)},
	}
	if err := c.getJSON(ctx, "/stock/candle", params, &payload); err != nil {
		return market.DailyMetrics{}, err
	}
	if payload.Status != "ok" || len(payload.Highs) == 0 || len(payload.Lows) == 0 {
		return market.DailyMetrics{}, fmt.Errorf("candles for %s: %w", symbol, ErrNoData)
	}

	metrics := market.DailyMetrics{
		Week52High: payload.Highs[0],
		Week52Low:  payload.Lows[0],
	}
	for _, h := range payload.Highs {
		if h > metrics.Week52High {
			metrics.Week52High = h
		}
	}
	for _, l := range payload.Lows {
		if l > 0 && l < metrics.Week52Low {
			metrics.Week52Low = l
		}
	}

	n := len(payload.Closes)
	metrics.History = make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		candle := market.Candle{Close: payload.Closes[i]}
		if i < len(payload.Timestamps) {
			candle.Date = time.Unix(payload.Timestamps[i], 0).UTC()
		}
		if i < len(payload.Highs) {
			candle.High = payload.Highs[i]
		}
		if i < len(payload.Lows) {
			candle.Low = payload.Lows[i]
		}
		if i < len(payload.Volumes) {
			candle.Volume = payload.Volumes[i]
		}
		metrics.History = append(metrics.History, candle)
	}

	if len(payload.Volumes) > 0 {
		metrics.Volume = payload.Volumes[len(payload.Volumes)-1]
		start := len(payload.Volumes) - avgVolumeWindow
		if start < 0 {
			start = 0
		}
		var sum float64
		var count int
		for _, v := range payload.Volumes[start:] {
			if v > 0 {
				sum += v
				count++
			}
		}
		if count > 0 {
			metrics.AvgVolume = sum / float64(count)
		}
	}
	return metrics, nil
}

// MACD fetches the provider-computed MACD histogram. The payload shape is
// loosely typed, so it is picked apart with gjson rather than a struct.
func (c *FinnhubClient) MACD(ctx context.Context, symbol string) (float64, error) {
	now := c.now().Unix()
	from := c.now().Add(-200 * 24 * time.Hour).Unix()

	params := url.Values{
		"symbol":     {symbol},
		"resolution": {"D"},
		"from":       {fmt.Sprintf("%d", from)},
		"to":         {fmt.Sprintf("%d", now)},
		"indicator":  {"macd"},
	}
	body, err := c.getRaw(ctx, "/indicator", params)
	if err != nil {
		return 0, err
	}

	hist := gjson.GetBytes(body, "macdHist")
	if !hist.IsArray() || len(hist.Array()) == 0 {
		return 0, fmt.Errorf("macd for %s: %w", symbol, ErrNoData)
	}
	values := hist.Array()
	return values[len(values)-1].Float(), nil
}

// SMA fetches the provider-computed simple moving average for the period.
func (c *FinnhubClient) SMA(ctx context.Context, symbol string, period int) (float64, error) {
	now := c.now().Unix()
	from := c.now().Add(-300 * 24 * time.Hour).Unix()

	params := url.Values{
		"symbol":           {symbol},
		"resolution":       {"D"},
		"from":             {fmt.Sprintf("%d", from)},
		"to":               {fmt.Sprintf("%d", now)},
		"indicator":        {"sma"},
		"indicator_fields": {fmt.Sprintf(`{"timeperiod":%d}`, period)},
	}
	body, err := c.getRaw(ctx, "/indicator", params)
	if err != nil {
		return 0, err
	}

	sma := gjson.GetBytes(body, "sma")
	if !sma.IsArray() || len(sma.Array()) == 0 {
		return 0, fmt.Errorf("sma for %s: %w", symbol, ErrNoData)
	}
	values := sma.Array()
	return values[len(values)-1].Float(), nil
}

func (c *FinnhubClient) getJSON(ctx context.Context, path string, params url.Values, target interface{}) error {
	body, err := c.getRaw(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *FinnhubClient) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("token", c.apiKey)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", path, ErrSymbolNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return body, nil
}
