package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/metrics"
)

// ErrNotConnected is returned by write operations while the feed is down.
var ErrNotConnected = errors.New("stream not connected")

// State is the connection state of the manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config bounds the manager's reconnect, heartbeat and breaker behavior.
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	MaxReconnects     int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

type subKey struct {
	symbol  string
	channel ChannelKind
}

// Health is a point-in-time snapshot for the status API.
type Health struct {
	State          string        `json:"state"`
	Subscriptions  int           `json:"subscriptions"`
	Reconnects     int64         `json:"reconnects"`
	ParseErrors    int64         `json:"parse_errors"`
	ConnectErrors  int64         `json:"connect_errors"`
	MessagesSeen   int64         `json:"messages_seen"`
	LastMessageAge time.Duration `json:"last_message_age_ns"`
	BreakerOpen    bool          `json:"breaker_open"`
}

// Manager owns one live connection to the exchange push feed. Message
// handling is callback-driven off the single read loop; handlers must stay
// short and non-blocking. Connect/Disconnect are mutually exclusive
// critical sections; the heartbeat and staleness timers never touch
// connection state directly.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	breaker *circuitBreaker

	mu   sync.Mutex // guards conn, subs, callbacks, stopCh
	conn *websocket.Conn
	subs map[subKey]struct{}

	// writeMu serializes all frame writes; gorilla conns support at most
	// one concurrent writer.
	writeMu sync.Mutex

	onTick   func(domain.PriceTick)
	onStatus func(domain.SymbolStatus)
	onStale  func(age time.Duration)
	onDown   func(reason error)

	state  atomic.Int32
	stopCh chan struct{} // recreated on every Connect, closed on Disconnect

	reconnects    atomic.Int64
	parseErrors   atomic.Int64
	connectErrors atomic.Int64
	messagesSeen  atomic.Int64
	lastMessageNs atomic.Int64
}

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		breaker: newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		subs:    make(map[subKey]struct{}),
	}
}

// OnTick registers the price-tick handler. Must be set before Connect.
func (m *Manager) OnTick(fn func(domain.PriceTick)) {
	m.mu.Lock()
	m.onTick = fn
	m.mu.Unlock()
}

// OnStatus registers the symbol-status handler.
func (m *Manager) OnStatus(fn func(domain.SymbolStatus)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// OnStale registers the staleness-warning handler.
func (m *Manager) OnStale(fn func(age time.Duration)) {
	m.mu.Lock()
	m.onStale = fn
	m.mu.Unlock()
}

// OnDown registers the handler called when reconnection is exhausted.
// The manager will not recover on its own after this fires.
func (m *Manager) OnDown(fn func(reason error)) {
	m.mu.Lock()
	m.onDown = fn
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connect establishes the feed connection under circuit-breaker protection.
// It fails fast without dialing when the breaker is open.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connect: already %s", m.State())
	}

	if err := m.breaker.Allow(); err != nil {
		m.state.Store(int32(StateDisconnected))
		return err
	}

	conn, err := m.dial(ctx)
	if err != nil {
		m.breaker.RecordFailure()
		m.connectErrors.Add(1)
		metrics.StreamConnectErrors.Inc()
		m.state.Store(int32(StateDisconnected))
		return fmt.Errorf("connect: %w", err)
	}
	m.breaker.RecordSuccess()

	stop := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.stopCh = stop
	m.mu.Unlock()

	m.state.Store(int32(StateConnected))
	m.lastMessageNs.Store(time.Now().UnixNano())

	if err := m.resubscribe(); err != nil {
		m.logger.Warn("resubscribe after connect failed", zap.Error(err))
	}

	go m.readLoop(conn, stop)
	go m.heartbeatLoop(stop)
	go m.staleLoop(stop)

	m.logger.Info("stream connected", zap.String("url", m.cfg.URL))
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, m.cfg.URL, nil)
	return conn, err
}

// Disconnect tears the connection down and clears all subscription and
// callback state. Safe to call on every exit path, including after errors.
func (m *Manager) Disconnect() {
	m.state.Store(int32(StateDisconnected))

	m.mu.Lock()
	if m.stopCh != nil {
		select {
		case <-m.stopCh:
		default:
			close(m.stopCh)
		}
		m.stopCh = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.subs = make(map[subKey]struct{})
	m.onTick, m.onStatus, m.onStale, m.onDown = nil, nil, nil, nil
	m.mu.Unlock()

	m.logger.Info("stream disconnected")
}

// Subscribe adds the symbol/channel pair to the active set. Duplicate calls
// are no-ops; the set is replayed automatically after any reconnect.
func (m *Manager) Subscribe(symbol string, channel ChannelKind) error {
	key := subKey{symbol: symbol, channel: channel}

	m.mu.Lock()
	if _, ok := m.subs[key]; ok {
		m.mu.Unlock()
		return nil
	}
	m.subs[key] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || m.State() != StateConnected {
		// Remembered; sent on the next successful (re)connect.
		return nil
	}
	return m.writeJSON(subscribeFrame{
		Method: "SUBSCRIPTION",
		Params: []string{topicFor(channel, symbol)},
	})
}

// Unsubscribe removes the pair from the active set. Unknown pairs are no-ops.
func (m *Manager) Unsubscribe(symbol string, channel ChannelKind) error {
	key := subKey{symbol: symbol, channel: channel}

	m.mu.Lock()
	if _, ok := m.subs[key]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, key)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || m.State() != StateConnected {
		return nil
	}
	return m.writeJSON(subscribeFrame{
		Method: "UNSUBSCRIPTION",
		Params: []string{topicFor(channel, symbol)},
	})
}

// SubscriptionCount returns the size of the active subscription set.
func (m *Manager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Manager) resubscribe() error {
	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for key := range m.subs {
		topics = append(topics, topicFor(key.channel, key.symbol))
	}
	m.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	if err := m.writeJSON(subscribeFrame{Method: "SUBSCRIPTION", Params: topics}); err != nil {
		return err
	}
	m.logger.Info("resubscribed", zap.Int("topics", len(topics)))
	return nil
}

// writeJSON is the single funnel for outbound frames. A heartbeat PING, a
// Subscribe call and a post-reconnect replay may race here; writeMu keeps
// the writes serialized.
func (m *Manager) writeJSON(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *Manager) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Caller-initiated teardown, not an abnormal close.
			default:
				m.handleAbnormalClose(stop, err)
			}
			return
		}

		m.messagesSeen.Add(1)
		m.lastMessageNs.Store(time.Now().UnixNano())
		m.dispatch(raw)
	}
}

// dispatch routes one frame. Parse errors are swallowed per message so a
// malformed frame cannot take the stream down.
func (m *Manager) dispatch(raw []byte) {
	msg, err := parseMessage(raw)
	if err != nil {
		m.parseErrors.Add(1)
		metrics.StreamParseErrors.Inc()
		m.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch v := msg.(type) {
	case TickerMessage:
		metrics.StreamMessages.WithLabelValues("ticker").Inc()
		m.mu.Lock()
		fn := m.onTick
		m.mu.Unlock()
		if fn != nil {
			fn(v.Tick)
		}
	case StatusMessage:
		metrics.StreamMessages.WithLabelValues("status").Inc()
		m.mu.Lock()
		fn := m.onStatus
		m.mu.Unlock()
		if fn != nil {
			fn(v.Status)
		}
	case PongMessage:
		metrics.StreamMessages.WithLabelValues("pong").Inc()
	case AckMessage:
		metrics.StreamMessages.WithLabelValues("ack").Inc()
		if v.Code != 0 {
			m.logger.Warn("subscription rejected", zap.Int("code", v.Code), zap.String("msg", v.Msg))
		} else {
			m.logger.Debug("subscription acknowledged", zap.Int("id", v.ID))
		}
	case UnknownMessage:
		metrics.StreamMessages.WithLabelValues("unknown").Inc()
		m.logger.Warn("unknown frame kind", zap.ByteString("raw", truncate(v.Raw, 200)))
	}
}

func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.State() != StateConnected {
				continue
			}
			if err := m.writeJSON(pingFrame{Method: "PING"}); err != nil {
				m.logger.Warn("heartbeat write failed", zap.Error(err))
			}
		}
	}
}

// staleLoop raises a liveness warning when no message arrived within
// StaleAfter. It warns only; it never disconnects.
func (m *Manager) staleLoop(stop chan struct{}) {
	interval := m.cfg.StaleAfter / 4
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.State() != StateConnected {
				continue
			}
			age := time.Since(time.Unix(0, m.lastMessageNs.Load()))
			if age < m.cfg.StaleAfter {
				continue
			}
			m.logger.Warn("feed is stale", zap.Duration("age", age))
			m.mu.Lock()
			fn := m.onStale
			m.mu.Unlock()
			if fn != nil {
				fn(age)
			}
		}
	}
}

func (m *Manager) handleAbnormalClose(stop chan struct{}, cause error) {
	if !m.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	m.logger.Warn("stream closed abnormally", zap.Error(cause))

	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	go m.reconnectLoop(stop)
}

// reconnectLoop retries with exponential backoff (doubling, capped) up to
// MaxReconnects attempts. Exhaustion is terminal: the manager goes
// disconnected and the owner is told through OnDown.
func (m *Manager) reconnectLoop(stop chan struct{}) {
	delay := m.cfg.ReconnectInitial

	for attempt := 1; ; attempt++ {
		if m.cfg.MaxReconnects > 0 && attempt > m.cfg.MaxReconnects {
			m.state.Store(int32(StateDisconnected))
			err := fmt.Errorf("reconnect attempts exhausted after %d tries", m.cfg.MaxReconnects)
			m.logger.Error("stream down", zap.Error(err))
			m.mu.Lock()
			fn := m.onDown
			// Heartbeat and staleness loops have nothing left to watch.
			if m.stopCh == stop {
				close(stop)
				m.stopCh = nil
			}
			m.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			return
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		m.reconnects.Add(1)
		metrics.StreamReconnects.Inc()
		m.logger.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max", m.cfg.MaxReconnects),
			zap.Duration("delay", delay))

		conn, err := m.dial(context.Background())
		if err != nil {
			m.connectErrors.Add(1)
			metrics.StreamConnectErrors.Inc()
			m.logger.Warn("reconnect failed", zap.Error(err))
			delay *= 2
			if delay > m.cfg.ReconnectMax {
				delay = m.cfg.ReconnectMax
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.state.Store(int32(StateConnected))
		m.lastMessageNs.Store(time.Now().UnixNano())

		if err := m.resubscribe(); err != nil {
			m.logger.Warn("resubscribe after reconnect failed", zap.Error(err))
		}

		go m.readLoop(conn, stop)
		m.logger.Info("stream reconnected")
		return
	}
}

// Health returns a snapshot of the manager's counters for the status API.
func (m *Manager) Health() Health {
	return Health{
		State:          m.State().String(),
		Subscriptions:  m.SubscriptionCount(),
		Reconnects:     m.reconnects.Load(),
		ParseErrors:    m.parseErrors.Load(),
		ConnectErrors:  m.connectErrors.Load(),
		MessagesSeen:   m.messagesSeen.Load(),
		LastMessageAge: time.Since(time.Unix(0, m.lastMessageNs.Load())),
		BreakerOpen:    m.breaker.Open(),
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
