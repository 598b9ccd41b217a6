package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAllBrokersFailed = errors.New("transport: all brokers failed")
	ErrNotConnected     = errors.New("transport: not connected")
	ErrDialerRequired   = errors.New("transport: dialer required")
)

// MessageFunc consumes frames from the active connection.
type MessageFunc func(ctx context.Context, topic string, payload []byte)

// HookFunc observes a connection lifecycle transition.
type HookFunc func(ctx context.Context)

// Status is a point-in-time view of the session.
type Status struct {
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	Index      int    `json:"index"`
	Label      string `json:"label"`
	Broker     string `json:"broker,omitempty"`
}

// Session owns exactly one active relay connection and replaces it on loss,
// failover, and recovery to the primary broker.
type Session struct {
	cfg    Config
	dialer Dialer
	log    zerolog.Logger

	// connectMu serializes connect, switch and fallback attempts.
	connectMu  sync.Mutex
	connecting atomic.Bool

	mu        sync.RWMutex
	conn      Conn
	active    int
	gen       uint64
	lastCheck time.Time
	filters   []string
	onMessage MessageFunc
	onConnect []HookFunc
	onDrop    []HookFunc
	onMigrate []HookFunc
	now       func() time.Time
}

func NewSession(cfg Config, dialer Dialer) (*Session, error) {
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		log:    logging.L("transport").With().Str("role", cfg.Role).Logger(),
		active: -1,
		now:    time.Now,
	}, nil
}

func (s *Session) Config() Config {
	return s.cfg
}

// SetClock replaces the time source used by the primary watchdog.
func (s *Session) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Session) SetMessageHandler(fn MessageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// NotifyOnConnect registers fn to run after every successful connect.
func (s *Session) NotifyOnConnect(fn HookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// NotifyOnDisconnect registers fn to run when the active connection is lost
// or deliberately replaced.
func (s *Session) NotifyOnDisconnect(fn HookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = append(s.onDrop, fn)
}

// NotifyOnMigrate registers fn to run after a switch back to the primary.
func (s *Session) NotifyOnMigrate(fn HookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMigrate = append(s.onMigrate, fn)
}

// Subscribe records filters for every future connection and applies them to
// the live one, if any.
func (s *Session) Subscribe(ctx context.Context, filters ...string) error {
	s.mu.Lock()
	s.filters = appendUnique(s.filters, filters...)
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return nil
	}
	return conn.Subscribe(ctx, filters...)
}

// Publish sends on the active connection.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(ctx, topic, payload)
}

// PublishUnreliable publishes on the active connection at the lowest delivery
// guarantee it offers.
func (s *Session) PublishUnreliable(ctx context.Context, topic string, payload []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if up, ok := conn.(UnreliablePublisher); ok {
		return up.PublishUnreliable(ctx, topic, payload)
	}
	return conn.Publish(ctx, topic, payload)
}

func (s *Session) IsConnected() bool {
	return s.liveIndex() >= 0
}

// ActiveIndex returns the elected broker index, or -1 when disconnected.
func (s *Session) ActiveIndex() int {
	return s.liveIndex()
}

func (s *Session) Status() Status {
	idx := s.liveIndex()
	st := Status{
		Connected:  idx >= 0,
		Connecting: s.connecting.Load(),
		Index:      idx,
		Label:      Label(idx),
	}
	if idx >= 0 {
		st.Broker = s.cfg.Brokers[idx].Address()
	}
	return st
}

// Connect elects a broker: the primary up to PrimaryAttempts times, then each
// backup once in list order. Concurrent callers wait for the attempt in
// flight and return its result when it connected.
func (s *Session) Connect(ctx context.Context) (int, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) (int, error) {
	if idx := s.liveIndex(); idx >= 0 {
		return idx, nil
	}
	s.connecting.Store(true)
	defer s.connecting.Store(false)

	s.log.Info().Str("broker", s.cfg.Brokers[0].Address()).Msg("trying primary broker")
	if s.tryBroker(ctx, 0, s.cfg.PrimaryAttempts, s.cfg.PrimaryTimeout) {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	s.log.Warn().Str("broker", s.cfg.Brokers[0].Address()).Msg("primary broker unavailable")

	for i := 1; i < len(s.cfg.Brokers); i++ {
		if s.tryBroker(ctx, i, 1, s.cfg.BackupTimeout) {
			s.mu.Lock()
			s.lastCheck = s.now()
			s.mu.Unlock()
			s.log.Warn().Int("index", i).Str("broker", s.cfg.Brokers[i].Address()).Msg("using backup broker")
			return i, nil
		}
		if err := ctx.Err(); err != nil {
			return -1, err
		}
	}
	s.log.Error().Int("brokers", len(s.cfg.Brokers)).Msg("all brokers failed")
	return -1, ErrAllBrokersFailed
}

func (s *Session) tryBroker(ctx context.Context, idx, attempts int, timeout time.Duration) bool {
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.dialInstall(ctx, idx, timeout)
		observability.RecordBrokerConnect(s.cfg.Role, idx, err == nil)
		if err == nil {
			return true
		}
		s.log.Warn().
			Str("label", Label(idx)).
			Str("broker", s.cfg.Brokers[idx].Address()).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Err(err).
			Msg("broker connect failed")
		if ctx.Err() != nil {
			return false
		}
		if attempt < attempts && !sleepCtx(ctx, s.cfg.PrimaryPause) {
			return false
		}
	}
	return false
}

func (s *Session) dialInstall(ctx context.Context, idx int, timeout time.Duration) error {
	broker := s.cfg.Brokers[idx]
	gen := s.retire(ctx)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := s.dialer.Dial(dialCtx, broker, DialOptions{
		ClientID:  s.clientID(""),
		Timeout:   timeout,
		KeepAlive: s.cfg.KeepAlive,
	}, s.handler(ctx, gen))
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker.Address(), err)
	}
	if filters := s.subscriptions(); len(filters) > 0 {
		if err := conn.Subscribe(dialCtx, filters...); err != nil {
			conn.Disconnect()
			return fmt.Errorf("subscribe %s: %w", broker.Address(), err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.active = idx
	hooks := append([]HookFunc(nil), s.onConnect...)
	s.mu.Unlock()

	observability.SetActiveBroker(s.cfg.Role, idx)
	s.log.Info().Str("label", Label(idx)).Str("broker", broker.Address()).Msg("connected")
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// retire detaches the current connection, invalidating its callbacks, and
// returns the generation for the next one.
func (s *Session) retire(ctx context.Context) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.conn
	s.conn = nil
	s.active = -1
	hooks := append([]HookFunc(nil), s.onDrop...)
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
		observability.SetActiveBroker(s.cfg.Role, -1)
		for _, fn := range hooks {
			fn(ctx)
		}
	}
	return gen
}

func (s *Session) handler(ctx context.Context, gen uint64) Handler {
	return Handler{
		OnConnected: func() {
			s.log.Debug().Uint64("gen", gen).Msg("relay acknowledged connection")
		},
		OnDisconnected: func(err error) {
			s.connectionLost(ctx, gen, err)
		},
		OnMessage: func(topic string, payload []byte) {
			s.mu.RLock()
			current := s.gen == gen
			fn := s.onMessage
			s.mu.RUnlock()
			if !current || fn == nil {
				return
			}
			fn(ctx, topic, payload)
		},
	}
}

func (s *Session) connectionLost(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	idx := s.active
	s.conn = nil
	s.active = -1
	hooks := append([]HookFunc(nil), s.onDrop...)
	s.mu.Unlock()

	observability.SetActiveBroker(s.cfg.Role, -1)
	s.log.Warn().Str("label", Label(idx)).Err(err).Msg("connection lost")
	for _, fn := range hooks {
		fn(ctx)
	}
}

// Close drops the active connection.
func (s *Session) Close() {
	s.retire(context.Background())
}

func (s *Session) liveIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || !s.conn.IsConnected() {
		return -1
	}
	return s.active
}

func (s *Session) subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.filters...)
}

func (s *Session) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Session) clientID(kind string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if kind == "" {
		return s.cfg.ClientID + "-" + suffix
	}
	return s.cfg.ClientID + "-" + kind + "-" + suffix
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		dup := false
		for _, have := range list {
			if have == item {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, item)
		}
	}
	return list
}
