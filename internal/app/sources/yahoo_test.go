package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// serverProxy routes every target through the given test server, ignoring the
// real upstream host.
func serverProxy(srv *httptest.Server) Proxy {
	return func(string) string { return srv.URL }
}

func TestYahooQuote_PreviousCloseFromHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{
				"regularMarketPrice":210.5,
				"previousClose":199.0,
				"regularMarketDayHigh":212.0,
				"regularMarketDayLow":208.0,
				"regularMarketTime":1712345678
			},
			"indicators":{"quote":[{"close":[200.0,205.0,0,208.0,210.5]}]}
		}]}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(srv)}}, nil)
	q, err := client.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// second-to-last valid close wins over the meta previousClose, with the
	// zero hole in the series skipped
	if q.PreviousClose != 208.0 {
		t.Fatalf("previous close = %v, want 208 from history", q.PreviousClose)
	}
	if q.Price != 210.5 {
		t.Fatalf("price = %v", q.Price)
	}
	if q.Source != "fallback" {
		t.Fatalf("source = %q", q.Source)
	}
}

func TestYahooQuote_MetaPreviousCloseWhenNoHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"regularMarketPrice":50.0,"chartPreviousClose":48.5},
			"indicators":{"quote":[{"close":[50.0]}]}
		}]}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(srv)}}, nil)
	q, err := client.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PreviousClose != 48.5 {
		t.Fatalf("previous close = %v, want meta fallback", q.PreviousClose)
	}
	// missing day range defaults to the price itself
	if q.DayHigh != 50.0 || q.DayLow != 50.0 {
		t.Fatalf("day range = %v/%v", q.DayHigh, q.DayLow)
	}
}

func TestYahooQuote_ZeroPriceIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":0}}]}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(srv)}}, nil)
	_, err := client.Quote(context.Background(), "NOPE")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestYahooChart_ProxyChainFallsThrough(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"regularMarketPrice":75.0,"previousClose":74.0}
		}]}}`))
	}))
	defer good.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(bad), serverProxy(good)}}, nil)
	q, err := client.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote should have fallen through to the second proxy: %v", err)
	}
	if q.Price != 75.0 {
		t.Fatalf("price = %v", q.Price)
	}
}

func TestYahooChart_NotFoundStopsProxyChain(t *testing.T) {
	var laterCalls int32
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()
	later := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&laterCalls, 1)
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1.0}}]}}`))
	}))
	defer later.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(notFound), serverProxy(later)}}, nil)
	_, err := client.Quote(context.Background(), "GHOST")
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
	if atomic.LoadInt32(&laterCalls) != 0 {
		t.Fatalf("a definitive 404 must not try further proxies")
	}
}

func TestYahooDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{
				"fiftyTwoWeekHigh":130.0,
				"fiftyTwoWeekLow":80.0,
				"regularMarketVolume":5000
			},
			"timestamp":[1700000000,1700086400,1700172800],
			"indicators":{"quote":[{
				"high":[101,111,121],
				"low":[99,109,119],
				"close":[100,0,120],
				"volume":[1000,3000,0]
			}]}
		}]}}`))
	}))
	defer srv.Close()

	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(srv)}}, nil)
	m, err := client.Daily(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if m.Week52High != 130.0 || m.Week52Low != 80.0 {
		t.Fatalf("wk52 range = %v/%v", m.Week52High, m.Week52Low)
	}
	if m.Volume != 5000 {
		t.Fatalf("volume = %v", m.Volume)
	}
	if m.AvgVolume != 2000 {
		t.Fatalf("avg volume = %v", m.AvgVolume)
	}
	// the zero close is a data hole, not a candle
	if len(m.History) != 2 {
		t.Fatalf("history length = %d", len(m.History))
	}
	if m.History[1].Close != 120 {
		t.Fatalf("history close = %v", m.History[1].Close)
	}
}

func TestYahooQuote_ConcurrentCallsShareClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"regularMarketPrice":42.0,"previousClose":41.0}
		}]}}`))
	}))
	defer srv.Close()

	// one client, fanned out the way a refresh batch does
	client := NewYahooClient(YahooConfig{Proxies: []Proxy{serverProxy(srv)}}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Quote(context.Background(), "AAPL")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent quote %d: %v", i, err)
		}
	}
}

func TestRelayProxy(t *testing.T) {
	p := RelayProxy("https://relay.example/fetch?url=")
	got := p("https://query1.finance.yahoo.com/v8/finance/chart/AAPL?range=1y")
	want := "https://relay.example/fetch?url=https%3A%2F%2Fquery1.finance.yahoo.com%2Fv8%2Ffinance%2Fchart%2FAAPL%3Frange%3D1y"
	if got != want {
		t.Fatalf("relay url = %q, want %q", got, want)
	}
}
