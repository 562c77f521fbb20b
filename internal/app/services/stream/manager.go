// Package stream maintains the push-feed websocket: subscriptions, keep-alive,
// reconnect with backoff and real-time tick delivery into the price cache.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/metrics"
	"github.com/tenenciaexterior/marketdata/internal/app/system"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// State is the connection state of the push feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// TickHandler receives the throttled per-symbol update events.
type TickHandler interface {
	SymbolTick(symbol string, dir market.Direction)
}

// FeedSignal is notified when the feed is lost for good or comes back. The
// refresh runner uses it to switch between schedule and polling cadence.
type FeedSignal interface {
	FeedLost()
	FeedRestored()
}

// Config configures the push-feed manager.
type Config struct {
	URL string

	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
	ThrottleWindow    time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = time.Second
	}
}

var _ system.Service = (*Manager)(nil)

// Manager owns the websocket connection. Subscriptions are reference counted
// so several symbol lists can share one feed; ticks flow into the cache
// through the monotonic-timestamp guard and out to the handler at most once
// per symbol per throttle window.
type Manager struct {
	cfg     Config
	cache   *cache.PriceCache
	handler TickHandler
	signal  FeedSignal
	log     *logger.Logger

	// dial is swapped out in tests.
	dial func(ctx context.Context) (*websocket.Conn, error)
	now  func() time.Time

	state int32

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     map[string]int
	lastEmit map[string]time.Time

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

// NewManager creates a push-feed manager. The handler and signal may be nil.
func NewManager(cfg Config, priceCache *cache.PriceCache, log *logger.Logger) *Manager {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewDefault("stream")
	}
	m := &Manager{
		cfg:      cfg,
		cache:    priceCache,
		log:      log,
		now:      time.Now,
		subs:     make(map[string]int),
		lastEmit: make(map[string]time.Time),
	}
	m.dial = func(ctx context.Context) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
		return conn, err
	}
	return m
}

// WithHandler sets the throttled tick callback. Call before Start.
func (m *Manager) WithHandler(h TickHandler) { m.handler = h }

// WithSignal sets the feed loss/restore callback. Call before Start.
func (m *Manager) WithSignal(s FeedSignal) { m.signal = s }

// State reports the current connection state.
func (m *Manager) State() State { return State(atomic.LoadInt32(&m.state)) }

func (m *Manager) setState(s State) { atomic.StoreInt32(&m.state, int32(s)) }

func (m *Manager) Name() string { return "stream-manager" }

// Start opens the feed and keeps it alive until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.running {
		m.lifecycleMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.lifecycleMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()

	m.log.Info("push feed manager started")
	return nil
}

// Stop closes the feed intentionally: the server sees a normal closure and no
// reconnect is attempted.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if !m.running {
		m.lifecycleMu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.closeConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.setState(StateDisconnected)
	m.log.Info("push feed manager stopped")
	return nil
}

// Subscribe adds one reference to the symbol. The first reference sends the
// subscribe frame when connected.
func (m *Manager) Subscribe(symbol string) {
	m.mu.Lock()
	m.subs[symbol]++
	first := m.subs[symbol] == 1
	conn := m.conn
	m.mu.Unlock()

	if first && conn != nil {
		m.writeFrame(conn, controlFrame{Type: "subscribe", Symbol: symbol})
	}
}

// Unsubscribe drops one reference. At zero the unsubscribe frame is sent if
// connected, otherwise only the bookkeeping is dropped.
func (m *Manager) Unsubscribe(symbol string) {
	m.mu.Lock()
	if m.subs[symbol] == 0 {
		m.mu.Unlock()
		return
	}
	m.subs[symbol]--
	last := m.subs[symbol] == 0
	if last {
		delete(m.subs, symbol)
		delete(m.lastEmit, symbol)
	}
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil {
		m.writeFrame(conn, controlFrame{Type: "unsubscribe", Symbol: symbol})
	}
}

// run is the connect/read/reconnect loop.
func (m *Manager) run(ctx context.Context) {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
			metrics.RecordStreamReconnect()

			delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffCap, attempt)
			m.log.WithField("attempt", attempt).
				WithField("delay", delay.String()).
				Info("reconnecting push feed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		conn, err := m.dial(ctx)
		if err != nil {
			attempt++
			if attempt > m.cfg.MaxAttempts {
				m.setState(StateDisconnected)
				m.log.WithError(err).Error("push feed reconnect budget exhausted")
				if m.signal != nil {
					m.signal.FeedLost()
				}
				return
			}
			m.log.WithError(err).Warn("push feed dial failed")
			continue
		}

		m.mu.Lock()
		m.conn = conn
		symbols := make([]string, 0, len(m.subs))
		for s := range m.subs {
			symbols = append(symbols, s)
		}
		m.mu.Unlock()

		m.setState(StateConnected)
		attempt = 0
		if m.signal != nil {
			m.signal.FeedRestored()
		}
		for _, s := range symbols {
			m.writeFrame(conn, controlFrame{Type: "subscribe", Symbol: s})
		}

		intentional := m.readLoop(ctx, conn)
		m.closeConn()
		if intentional || ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		attempt = 1
	}
}

// readLoop pumps messages until the connection dies. It reports whether the
// closure was intentional (normal close, no reconnect wanted).
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.heartbeat(heartbeatCtx, conn)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				m.log.Info("push feed closed normally")
				return true
			}
			m.log.WithError(err).Warn("push feed read failed")
			return false
		}
		m.handleMessage(conn, payload)
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.writeFrame(conn, controlFrame{Type: "ping"})
		}
	}
}

type controlFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

type feedMessage struct {
	Type string `json:"type"`
	Data []struct {
		Symbol    string  `json:"s"`
		Price     float64 `json:"p"`
		Timestamp int64   `json:"t"`
		Volume    float64 `json:"v"`
	} `json:"data"`
}

func (m *Manager) handleMessage(conn *websocket.Conn, payload []byte) {
	var msg feedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.WithError(err).Debug("unparseable feed message dropped")
		return
	}

	switch msg.Type {
	case "ping":
		m.writeFrame(conn, controlFrame{Type: "pong"})
	case "trade":
		for _, trade := range msg.Data {
			m.applyTick(market.Tick{
				Symbol:    trade.Symbol,
				Price:     trade.Price,
				Timestamp: trade.Timestamp,
				Volume:    trade.Volume,
			})
		}
	}
}

// applyTick merges the tick through the cache's timestamp guard and emits the
// throttled handler event.
func (m *Manager) applyTick(tick market.Tick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}

	dir, ok := m.cache.ApplyTick(tick)
	if !ok {
		return
	}
	metrics.RecordStreamTick()

	if m.handler == nil {
		return
	}

	now := m.now()
	m.mu.Lock()
	last, seen := m.lastEmit[tick.Symbol]
	if seen && now.Sub(last) < m.cfg.ThrottleWindow {
		m.mu.Unlock()
		return
	}
	m.lastEmit[tick.Symbol] = now
	m.mu.Unlock()

	m.handler.SymbolTick(tick.Symbol, dir)
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame controlFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		m.log.WithError(err).WithField("type", frame.Type).Debug("feed write failed")
	}
}

func (m *Manager) closeConn() {
	// Holding mu serialises the close frame with writeFrame.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return
	}
	_ = m.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	m.conn.Close()
	m.conn = nil
}

// backoffDelay doubles per attempt from base, capped at limit.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}
