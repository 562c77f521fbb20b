package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/indicators"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Proxy rewrites a target URL to go through a relay endpoint. The identity
// proxy issues the request directly.
type Proxy func(target string) string

// DirectProxy issues requests without a relay.
func DirectProxy(target string) string { return target }

// RelayProxy wraps the target for a generic "?url=" style relay.
func RelayProxy(prefix string) Proxy {
	return func(target string) string {
		return prefix + url.QueryEscape(target)
	}
}

var yahooHosts = []string{
	"query1.finance.yahoo.com",
	"query2.finance.yahoo.com",
}

// YahooClient is the scraped-fallback adapter built on the public chart
// endpoint. Every request walks the configured proxy chain; a definitive 404
// ("symbol not found") stops the chain instead of retrying.
type YahooClient struct {
	proxies    []Proxy
	httpClient *http.Client
	log        *logger.Logger
	hostIndex  uint64 // accessed atomically; refresh batches share one client
}

// YahooConfig configures the fallback adapter.
type YahooConfig struct {
	Proxies []Proxy
	Timeout time.Duration
}

// NewYahooClient creates the fallback adapter. With no proxies configured it
// issues direct requests.
func NewYahooClient(cfg YahooConfig, log *logger.Logger) *YahooClient {
	if len(cfg.Proxies) == 0 {
		cfg.Proxies = []Proxy{DirectProxy}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("yahoo")
	}
	return &YahooClient{
		proxies:    cfg.Proxies,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Quote builds a full quote from the chart payload. The previous close is
// taken from the second-to-last entry of the close series when history is
// available; the provider's self-reported previous close is less reliable
// and only used when history is absent.
func (c *YahooClient) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	result, err := c.chart(ctx, symbol, "2mo")
	if err != nil {
		return market.Quote{}, err
	}

	meta := result.Get("meta")
	price := meta.Get("regularMarketPrice").Float()
	if price == 0 {
		return market.Quote{}, fmt.Errorf("yahoo quote for %s: %w", symbol, ErrNoData)
	}

	prev := meta.Get("previousClose").Float()
	if prev == 0 {
		prev = meta.Get("chartPreviousClose").Float()
	}
	closes := validSeries(result.Get("indicators.quote.0.close"))
	if len(closes) >= 2 {
		prev = closes[len(closes)-2]
	}

	q := market.Quote{
		Price:           price,
		PreviousClose:   prev,
		DayHigh:         orDefault(meta.Get("regularMarketDayHigh").Float(), price),
		DayLow:          orDefault(meta.Get("regularMarketDayLow").Float(), price),
		MarketTimestamp: meta.Get("regularMarketTime").Int(),
		Source:          market.SourceFallback,
	}
	if q.MarketTimestamp == 0 {
		q.MarketTimestamp = time.Now().Unix()
	}
	if prev != 0 {
		q.DailyChangePct = (price - prev) / prev * 100
		q.DailyChangeAbs = price - prev
	}
	return q, nil
}

// Daily derives the daily aggregates from the chart payload: the 52-week
// range from the meta block and the volume average from the volume series.
func (c *YahooClient) Daily(ctx context.Context, symbol string) (market.DailyMetrics, error) {
	result, err := c.chart(ctx, symbol, "1y")
	if err != nil {
		return market.DailyMetrics{}, err
	}

	meta := result.Get("meta")
	metrics := market.DailyMetrics{
		Week52High: meta.Get("fiftyTwoWeekHigh").Float(),
		Week52Low:  meta.Get("fiftyTwoWeekLow").Float(),
		Volume:     meta.Get("regularMarketVolume").Float(),
	}

	timestamps := result.Get("timestamp").Array()
	highs := result.Get("indicators.quote.0.high").Array()
	lows := result.Get("indicators.quote.0.low").Array()
	closes := result.Get("indicators.quote.0.close").Array()
	volumes := result.Get("indicators.quote.0.volume").Array()

	for i, ts := range timestamps {
		if i >= len(closes) || closes[i].Float() <= 0 {
			continue
		}
		candle := market.Candle{
			Date:  time.Unix(ts.Int(), 0).UTC(),
			Close: closes[i].Float(),
		}
		if i < len(highs) {
			candle.High = highs[i].Float()
		}
		if i < len(lows) {
			candle.Low = lows[i].Float()
		}
		if i < len(volumes) {
			candle.Volume = volumes[i].Float()
		}
		metrics.History = append(metrics.History, candle)
	}

	var volSum float64
	var volCount int
	for _, v := range volumes {
		if v.Float() > 0 {
			volSum += v.Float()
			volCount++
		}
	}
	if volCount > 0 {
		metrics.AvgVolume = volSum / float64(volCount)
	}

	if sma, ok := indicators.SMA(metrics.Closes(), indicators.SMA200Period); ok {
		metrics.SMA200 = sma
	}
	return metrics, nil
}

// chart fetches the chart payload for the symbol, alternating query hosts and
// walking the proxy chain until one relay answers.
func (c *YahooClient) chart(ctx context.Context, symbol, chartRange string) (gjson.Result, error) {
	idx := atomic.AddUint64(&c.hostIndex, 1) - 1
	host := yahooHosts[idx%uint64(len(yahooHosts))]
	target := fmt.Sprintf("https://%s/v8/finance/chart/%s?interval=1d&range=%s",
		host, url.PathEscape(symbol), chartRange)

	var lastErr error
	for i, proxy := range c.proxies {
		if err := ctx.Err(); err != nil {
			return gjson.Result{}, err
		}

		body, err := c.get(ctx, proxy(target))
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrSymbolNotFound) {
				return gjson.Result{}, err
			}
			c.log.WithError(err).
				WithField("symbol", symbol).
				WithField("proxy", i).
				Debug("chart fetch failed, trying next proxy")
			continue
		}

		result := gjson.GetBytes(body, "chart.result.0")
		if !result.Exists() {
			lastErr = fmt.Errorf("chart for %s: %w", symbol, ErrNoData)
			continue
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("chart for %s: %w", symbol, ErrNoData)
	}
	return gjson.Result{}, lastErr
}

func (c *YahooClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketdata/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", reqURL, ErrSymbolNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", reqURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func validSeries(arr gjson.Result) []float64 {
	var out []float64
	for _, v := range arr.Array() {
		if f := v.Float(); f > 0 {
			out = append(out, f)
		}
	}
	return out
}

func orDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
