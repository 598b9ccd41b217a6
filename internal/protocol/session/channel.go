package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/protocol/topic"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/rs/zerolog"
)

var (
	ErrPeerRequired      = errors.New("session: peer id required")
	ErrPublisherRequired = errors.New("session: publisher required")
)

// Publisher is the send primitive the channel needs from the transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// UnreliablePublisher is an optional Publisher extension used for untracked
// frames.
type UnreliablePublisher interface {
	PublishUnreliable(ctx context.Context, topic string, payload []byte) error
}

// Inbound is one decoded data frame delivered to the owning component.
type Inbound struct {
	PeerID     string
	MessageID  string
	Body       string
	Raw        string
	Topic      string
	ReceivedAt time.Time
}

// Receiver consumes data frames.
type Receiver interface {
	OnData(ctx context.Context, in Inbound)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, in Inbound)

func (f ReceiverFunc) OnData(ctx context.Context, in Inbound) { f(ctx, in) }

// LivenessObserver consumes heartbeat acknowledgments.
type LivenessObserver interface {
	OnLivenessAck(ctx context.Context, at time.Time)
}

// SweepResult reports one retry sweep.
type SweepResult struct {
	Retransmitted int
	Dropped       int
}

// Channel frames outbound payloads with ids, tracks them until acknowledged,
// retries on timeout, and answers inbound data frames with acks.
type Channel struct {
	cfg    Config
	pub    Publisher
	outbox *Outbox
	log    zerolog.Logger

	mu   sync.RWMutex
	recv Receiver
	live LivenessObserver
	now  func() time.Time
}

func NewChannel(cfg Config, pub Publisher) (*Channel, error) {
	if pub == nil {
		return nil, ErrPublisherRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Channel{
		cfg:    cfg,
		pub:    pub,
		outbox: NewOutbox(),
		log:    logging.L("channel").With().Str("role", string(cfg.Role)).Logger(),
		now:    time.Now,
	}, nil
}

func (c *Channel) Config() Config {
	return c.cfg
}

func (c *Channel) SetReceiver(r Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = r
}

func (c *Channel) SetLivenessObserver(o LivenessObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = o
}

// SetClock replaces the time source used to stamp envelopes.
func (c *Channel) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Channel) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

// Subscriptions returns the filters this role must subscribe to. An empty
// peerID subscribes to every peer (controller).
func (c *Channel) Subscriptions(peerID string) []string {
	if strings.TrimSpace(peerID) == "" {
		return topic.Wildcards(c.cfg.Namespace, c.cfg.Role.Inbound())
	}
	return topic.Peer(c.cfg.Namespace, c.cfg.Role.Inbound(), peerID)
}

// Send frames body with a fresh id, records it as pending and publishes it.
// Publish failures are left to the retry sweep.
func (c *Channel) Send(ctx context.Context, peerID, body string) (Envelope, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return Envelope{}, ErrPeerRequired
	}
	now := c.clock()
	env := Envelope{
		PeerID:   peerID,
		Topic:    topic.Data(c.cfg.Namespace, c.cfg.Role.Outbound(), peerID),
		Payload:  body,
		QueuedAt: now,
		SentAt:   now,
	}
	for {
		env.MessageID = frame.NewMessageID()
		err := c.outbox.Insert(env)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateMessageID) {
			return Envelope{}, err
		}
	}
	observability.RecordEnvelope(string(c.cfg.Role), "sent")
	observability.SetPendingEnvelopes(string(c.cfg.Role), c.outbox.Len())

	if err := c.publish(ctx, env.Topic, frame.Encode(env.MessageID, env.Payload)); err != nil {
		c.log.Warn().Str("peer", peerID).Str("message_id", env.MessageID).Err(err).Msg("send publish failed, left for retry")
		env, _ = c.outbox.MarkSent(env.MessageID, now, err.Error())
	}
	return env, nil
}

// SendUnreliable publishes one untracked frame; there is no retry.
func (c *Channel) SendUnreliable(ctx context.Context, peerID, messageID, body string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ErrPeerRequired
	}
	data := topic.Data(c.cfg.Namespace, c.cfg.Role.Outbound(), peerID)
	payload := []byte(frame.Encode(messageID, body))
	if up, ok := c.pub.(UnreliablePublisher); ok {
		if err := up.PublishUnreliable(ctx, data, payload); err != nil {
			return fmt.Errorf("session: publish %s: %w", data, err)
		}
		return nil
	}
	return c.publish(ctx, data, string(payload))
}

// Acknowledge echoes raw, unchanged, on this role's ack topic for peerID.
func (c *Channel) Acknowledge(ctx context.Context, peerID, raw string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ErrPeerRequired
	}
	ack := topic.Ack(topic.Data(c.cfg.Namespace, c.cfg.Role.Outbound(), peerID))
	return c.publish(ctx, ack, raw)
}

// HandleMessage is the transport's on-message entry point. It never returns
// an error: malformed frames are logged and dropped.
func (c *Channel) HandleMessage(ctx context.Context, topicName string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("topic", topicName).Interface("panic", r).Msg("frame handler panicked")
		}
	}()
	route, err := topic.Parse(c.cfg.Namespace, topicName)
	if err != nil || route.Direction != c.cfg.Role.Inbound() {
		observability.RecordFrame(string(c.cfg.Role), "invalid")
		c.log.Debug().Str("topic", topicName).Msg("ignoring frame on foreign topic")
		return
	}
	raw := string(payload)
	if route.Ack {
		c.handleAck(ctx, route.PeerID, raw)
		return
	}
	c.handleData(ctx, route, topicName, raw)
}

func (c *Channel) handleData(ctx context.Context, route topic.Route, topicName, raw string) {
	observability.RecordFrame(string(c.cfg.Role), "data")
	f := frame.Decode(raw)
	in := Inbound{
		PeerID:     route.PeerID,
		MessageID:  f.MessageID,
		Body:       f.Body,
		Raw:        raw,
		Topic:      topicName,
		ReceivedAt: c.clock(),
	}

	c.mu.RLock()
	recv := c.recv
	c.mu.RUnlock()
	if recv != nil {
		recv.OnData(ctx, in)
	}

	if err := c.Acknowledge(ctx, route.PeerID, raw); err != nil {
		c.log.Warn().Str("peer", route.PeerID).Str("message_id", f.MessageID).Err(err).Msg("auto-ack failed")
	}
}

func (c *Channel) handleAck(ctx context.Context, peerID, raw string) {
	f := frame.Decode(raw)
	if f.IsHeartbeat() {
		observability.RecordFrame(string(c.cfg.Role), "heartbeat_ack")
		c.mu.RLock()
		live := c.live
		c.mu.RUnlock()
		if live != nil {
			live.OnLivenessAck(ctx, c.clock())
		}
		return
	}
	observability.RecordFrame(string(c.cfg.Role), "ack")
	env, ok := c.outbox.Ack(f.MessageID)
	if !ok {
		c.log.Trace().Str("peer", peerID).Str("message_id", f.MessageID).Msg("ack ignored")
		return
	}
	observability.RecordEnvelope(string(c.cfg.Role), "acked")
	observability.SetPendingEnvelopes(string(c.cfg.Role), c.outbox.Len())
	c.log.Debug().
		Str("peer", peerID).
		Str("message_id", env.MessageID).
		Int("retries", env.RetryCount).
		Dur("rtt", c.clock().Sub(env.QueuedAt)).
		Msg("envelope acknowledged")
}

// RetrySweep retransmits envelopes older than the ack timeout and drops
// those past the retry ceiling. Dropped envelopes produce no signal beyond
// the log line and metric.
func (c *Channel) RetrySweep(ctx context.Context, now time.Time) SweepResult {
	resend, dropped := c.outbox.Sweep(now, c.cfg.AckTimeout, c.cfg.MaxRetries)
	for _, env := range dropped {
		observability.RecordEnvelope(string(c.cfg.Role), "dropped")
		c.log.Warn().
			Str("peer", env.PeerID).
			Str("message_id", env.MessageID).
			Int("retries", env.RetryCount-1).
			Msg("envelope dropped after retry ceiling")
	}
	for _, env := range resend {
		observability.RecordEnvelope(string(c.cfg.Role), "retransmitted")
		if err := c.publish(ctx, env.Topic, frame.Encode(env.MessageID, env.Payload)); err != nil {
			c.outbox.MarkSent(env.MessageID, now, err.Error())
			c.log.Warn().Str("message_id", env.MessageID).Int("retry", env.RetryCount).Err(err).Msg("retransmit failed")
			continue
		}
		c.log.Debug().Str("message_id", env.MessageID).Int("retry", env.RetryCount).Msg("envelope retransmitted")
	}
	observability.SetPendingEnvelopes(string(c.cfg.Role), c.outbox.Len())
	return SweepResult{Retransmitted: len(resend), Dropped: len(dropped)}
}

// RetransmitPending republishes every pending envelope with its original id,
// used after the transport migrates to a new broker.
func (c *Channel) RetransmitPending(ctx context.Context) int {
	pending := c.outbox.List()
	now := c.clock()
	sent := 0
	for _, env := range pending {
		err := c.publish(ctx, env.Topic, frame.Encode(env.MessageID, env.Payload))
		lastErr := ""
		if err != nil {
			lastErr = err.Error()
			c.log.Warn().Str("message_id", env.MessageID).Err(err).Msg("resend after migration failed")
		} else {
			sent++
			observability.RecordEnvelope(string(c.cfg.Role), "retransmitted")
		}
		c.outbox.MarkSent(env.MessageID, now, lastErr)
	}
	if len(pending) > 0 {
		c.log.Info().Int("pending", len(pending)).Int("resent", sent).Msg("pending envelopes resent")
	}
	return sent
}

// RunRetryLoop sweeps every RetryInterval until ctx is done.
func (c *Channel) RunRetryLoop(ctx context.Context) error {
	return supervisor.Every(ctx, "channel.retry", c.cfg.RetryInterval, func(ctx context.Context) error {
		c.RetrySweep(ctx, c.clock())
		return nil
	})
}

// Pending returns a snapshot of unacknowledged envelopes.
func (c *Channel) Pending() []Envelope {
	return c.outbox.List()
}

func (c *Channel) publish(ctx context.Context, topicName, payload string) error {
	if err := c.pub.Publish(ctx, topicName, []byte(payload)); err != nil {
		return fmt.Errorf("session: publish %s: %w", topicName, err)
	}
	return nil
}
