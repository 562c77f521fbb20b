package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Rating patterns over the public quote page. The markup changes without
// notice; a miss degrades to "no rating", never to an error surfaced upward.
var (
	ratingNumericPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Recommendation Rating.*?([0-9.]+)`),
		regexp.MustCompile(`(?i)recommendation-rating.*?([0-9.]+)`),
		regexp.MustCompile(`(?i)analyst.*?rating.*?([0-9.]+)`),
	}
	ratingTextPattern = regexp.MustCompile(`(?i)(Strong Buy|Buy|Hold|Underperform|Sell|Strong Sell)`)
)

// RatingScraper extracts the analyst consensus rating from the public quote
// page HTML. Best effort only.
type RatingScraper struct {
	proxies    []Proxy
	httpClient *http.Client
	log        *logger.Logger
}

// NewRatingScraper creates a scraper sharing the fallback adapter's proxy
// chain configuration.
func NewRatingScraper(cfg YahooConfig, log *logger.Logger) *RatingScraper {
	if len(cfg.Proxies) == 0 {
		cfg.Proxies = []Proxy{DirectProxy}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("rating-scraper")
	}
	return &RatingScraper{
		proxies:    cfg.Proxies,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Fetch returns the bucketed rating ("S.Buy", "Buy", "Hold", "Sell",
// "S.Sell") or an empty string when no rating could be extracted.
func (s *RatingScraper) Fetch(ctx context.Context, symbol string) (string, error) {
	target := "https://finance.yahoo.com/quote/" + symbol

	for _, proxy := range s.proxies {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxy(target), nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketdata/1.0)")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			continue
		}
		html, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || readErr != nil {
			continue
		}

		if rating := ExtractRating(string(html)); rating != "" {
			return rating, nil
		}
	}

	return "", fmt.Errorf("rating for %s: %w", symbol, ErrNoData)
}

// ExtractRating applies the rating patterns to a page body.
func ExtractRating(html string) string {
	for _, pattern := range ratingNumericPatterns {
		m := pattern.FindStringSubmatch(html)
		if len(m) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return bucketRating(value)
	}

	if m := ratingTextPattern.FindStringSubmatch(html); len(m) >= 2 {
		switch {
		case strings.EqualFold(m[1], "Strong Buy"):
			return "S.Buy"
		case strings.EqualFold(m[1], "Buy"):
			return "Buy"
		case strings.EqualFold(m[1], "Hold"):
			return "Hold"
		case strings.EqualFold(m[1], "Strong Sell"):
			return "S.Sell"
		case strings.EqualFold(m[1], "Sell"), strings.EqualFold(m[1], "Underperform"):
			return "Sell"
		}
	}
	return ""
}

func bucketRating(value float64) string {
	switch {
	case value <= 1.5:
		return "S.Buy"
	case value <= 2.5:
		return "Buy"
	case value <= 3.5:
		return "Hold"
	case value <= 4.5:
		return "Sell"
	default:
		return "S.Sell"
	}
}
