package ghost

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/rs/zerolog"
)

// HeartbeatConfig sets liveness timing for one endpoint.
type HeartbeatConfig struct {
	PingInterval    time.Duration
	WatchInterval   time.Duration
	LivenessTimeout time.Duration
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		PingInterval:    10 * time.Second,
		WatchInterval:   5 * time.Second,
		LivenessTimeout: 30 * time.Second,
	}
}

func (c HeartbeatConfig) WithDefaults() HeartbeatConfig {
	def := DefaultHeartbeatConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = def.WatchInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = def.LivenessTimeout
	}
	return c
}

// Sender is the channel surface the heartbeat needs.
type Sender interface {
	Send(ctx context.Context, peerID, body string) (session.Envelope, error)
	SendUnreliable(ctx context.Context, peerID, messageID, body string) error
}

// HeartbeatStatus is a point-in-time liveness view.
type HeartbeatStatus struct {
	Reachable     bool
	HandshakeSent bool
	LastAck       time.Time
}

// HeartbeatMonitor pings the controller through the relay and sends one
// handshake for every transition to reachable.
type HeartbeatMonitor struct {
	cfg       HeartbeatConfig
	id        Identity
	out       Sender
	connected func() bool
	log       zerolog.Logger

	mu            sync.Mutex
	lastAck       time.Time
	reachable     bool
	handshakeSent bool
}

func NewHeartbeatMonitor(cfg HeartbeatConfig, id Identity, out Sender, connected func() bool) *HeartbeatMonitor {
	if connected == nil {
		connected = func() bool { return true }
	}
	return &HeartbeatMonitor{
		cfg:       cfg.WithDefaults(),
		id:        id,
		out:       out,
		connected: connected,
		log:       logging.L("heartbeat").With().Str("peer", id.PeerID).Logger(),
	}
}

// Ping sends one untracked liveness frame while the transport is up.
func (h *HeartbeatMonitor) Ping(ctx context.Context) error {
	if !h.connected() {
		return nil
	}
	return h.out.SendUnreliable(ctx, h.id.PeerID, frame.NewHeartbeatID(), frame.LivenessMarker)
}

func (h *HeartbeatMonitor) RunPingLoop(ctx context.Context) error {
	return supervisor.Every(ctx, "ghost.ping", h.cfg.PingInterval, h.Ping)
}

// OnLivenessAck records a heartbeat echo. The first echo after a reset
// marks the controller reachable and sends the handshake.
func (h *HeartbeatMonitor) OnLivenessAck(ctx context.Context, at time.Time) {
	h.mu.Lock()
	h.lastAck = at
	h.reachable = true
	first := !h.handshakeSent
	h.handshakeSent = true
	h.mu.Unlock()

	if !first {
		return
	}
	h.log.Info().Msg("controller reachable, sending handshake")
	if _, err := h.out.Send(ctx, h.id.PeerID, h.id.Handshake().String()); err != nil {
		h.log.Warn().Err(err).Msg("handshake send failed")
		h.mu.Lock()
		h.handshakeSent = false
		h.mu.Unlock()
	}
}

// CheckLiveness marks the controller unreachable once no echo has arrived
// for LivenessTimeout. It reports whether this call made that transition.
func (h *HeartbeatMonitor) CheckLiveness(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastAck.IsZero() || !h.handshakeSent {
		return false
	}
	if now.Sub(h.lastAck) <= h.cfg.LivenessTimeout {
		return false
	}
	h.reachable = false
	h.handshakeSent = false
	h.log.Warn().Dur("since_ack", now.Sub(h.lastAck)).Msg("controller unreachable")
	return true
}

func (h *HeartbeatMonitor) RunAckWatch(ctx context.Context) error {
	return supervisor.Every(ctx, "ghost.ack_watch", h.cfg.WatchInterval, func(context.Context) error {
		h.CheckLiveness(time.Now())
		return nil
	})
}

// Reset forgets liveness state; the next echo re-sends the handshake.
func (h *HeartbeatMonitor) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastAck = time.Time{}
	h.reachable = false
	h.handshakeSent = false
}

func (h *HeartbeatMonitor) Status() HeartbeatStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeartbeatStatus{
		Reachable:     h.reachable,
		HandshakeSent: h.handshakeSent,
		LastAck:       h.lastAck,
	}
}
