package mirage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol/payload"
	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/supervisor"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownPeer  = errors.New("mirage: unknown peer")
	ErrPeerBusy     = errors.New("mirage: peer busy")
	ErrEmptyCommand = errors.New("mirage: empty command")
)

// Tier is the liveness class derived from time since a peer was last seen.
type Tier string

const (
	TierActive  Tier = "active"
	TierIdle    Tier = "idle"
	TierOffline Tier = "offline"
)

// Direction tags a message as a dispatched command or a returned result.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// PeerSession is the controller's view of one endpoint.
type PeerSession struct {
	PeerID           string    `json:"peer_id" yaml:"peer_id"`
	DisplayName      string    `json:"display_name" yaml:"display_name"`
	OSLabel          string    `json:"os_label" yaml:"os_label"`
	Address          string    `json:"address" yaml:"address"`
	Broker           string    `json:"broker" yaml:"broker"`
	FirstSeenAt      time.Time `json:"first_seen_at" yaml:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at" yaml:"last_seen_at"`
	Tier             Tier      `json:"tier" yaml:"tier"`
	Executing        bool      `json:"executing" yaml:"executing"`
	CurrentCommand   string    `json:"current_command,omitempty" yaml:"current_command,omitempty"`
	CommandStartedAt time.Time `json:"command_started_at,omitempty" yaml:"command_started_at,omitempty"`
}

// Message is one entry of the bounded command/result history.
type Message struct {
	At        time.Time `json:"at"`
	PeerID    string    `json:"peer_id"`
	Direction Direction `json:"direction"`
	Kind      string    `json:"kind"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text"`
}

// Sender is the channel surface the registry dispatches through.
type Sender interface {
	Send(ctx context.Context, peerID, body string) (session.Envelope, error)
}

// RegistryConfig sets tier thresholds and history size.
type RegistryConfig struct {
	IdleAfter          time.Duration
	OfflineAfter       time.Duration
	ReclassifyInterval time.Duration
	HistoryLimit       int
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleAfter:          30 * time.Second,
		OfflineAfter:       60 * time.Second,
		ReclassifyInterval: time.Second,
		HistoryLimit:       500,
	}
}

func (c RegistryConfig) WithDefaults() RegistryConfig {
	def := DefaultRegistryConfig()
	if c.IdleAfter <= 0 {
		c.IdleAfter = def.IdleAfter
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = def.OfflineAfter
	}
	if c.OfflineAfter < c.IdleAfter {
		c.OfflineAfter = c.IdleAfter
	}
	if c.ReclassifyInterval <= 0 {
		c.ReclassifyInterval = def.ReclassifyInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	return c
}

// ClassifyTier maps the age of a peer's last frame to a tier.
func ClassifyTier(age, idleAfter, offlineAfter time.Duration) Tier {
	switch {
	case age > offlineAfter:
		return TierOffline
	case age > idleAfter:
		return TierIdle
	default:
		return TierActive
	}
}

// Registry tracks every peer that has handshaken and serializes dispatch
// per peer.
type Registry struct {
	cfg       RegistryConfig
	out       Sender
	sink      Sink
	artifacts *ArtifactStore
	log       zerolog.Logger

	mu      sync.RWMutex
	peers   map[string]*PeerSession
	history []Message
	broker  func() string
	now     func() time.Time
}

func NewRegistry(cfg RegistryConfig, out Sender, sink Sink, artifacts *ArtifactStore) *Registry {
	if sink == nil {
		sink = NopSink{}
	}
	return &Registry{
		cfg:       cfg.WithDefaults(),
		out:       out,
		sink:      sink,
		artifacts: artifacts,
		log:       logging.L("registry"),
		peers:     make(map[string]*PeerSession),
		broker:    func() string { return "" },
		now:       time.Now,
	}
}

// SetBrokerLabel sets the source of the broker label stamped on peers.
func (r *Registry) SetBrokerLabel(fn func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broker = fn
}

func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// OnData classifies one inbound data frame and applies it.
func (r *Registry) OnData(_ context.Context, in session.Inbound) {
	body := payload.Classify(in.Body)
	switch body.Kind {
	case payload.KindHandshake:
		if body.Handshake.PeerID != in.PeerID {
			r.log.Warn().Str("topic_peer", in.PeerID).Str("handshake_peer", body.Handshake.PeerID).Msg("handshake peer mismatch, treating as text")
			r.onResult(in, payload.KindTextResult.String(), in.Body)
			return
		}
		r.onHandshake(in, body.Handshake)
	case payload.KindLiveness:
		r.onLiveness(in)
	case payload.KindBinaryResult:
		r.onResult(in, body.Kind.String(), r.saveArtifact(in.PeerID, body.Binary))
	default:
		r.onResult(in, body.Kind.String(), body.Text)
	}
}

// onHandshake upserts the peer. A handshake means the endpoint has just
// re-established reachability, so a command still marked executing is
// abandoned.
func (r *Registry) onHandshake(in session.Inbound, hs payload.Handshake) {
	r.mu.Lock()
	now := r.now()
	p, ok := r.peers[in.PeerID]
	if !ok {
		p = &PeerSession{PeerID: in.PeerID, FirstSeenAt: now}
		r.peers[in.PeerID] = p
	}
	abandoned := ""
	if p.Executing {
		abandoned = p.CurrentCommand
		p.Executing = false
		p.CurrentCommand = ""
		p.CommandStartedAt = time.Time{}
	}
	p.DisplayName = hs.User
	p.OSLabel = hs.Platform
	p.Address = hs.Address
	p.Broker = r.broker()
	p.LastSeenAt = now
	p.Tier = TierActive
	snap := *p
	r.mu.Unlock()

	if abandoned != "" {
		r.log.Warn().Str("peer", snap.PeerID).Str("command", abandoned).Msg("peer re-handshaked while executing, command abandoned")
	}
	if ok {
		r.log.Info().Str("peer", snap.PeerID).Str("user", snap.DisplayName).Msg("peer handshake refreshed")
	} else {
		r.log.Info().Str("peer", snap.PeerID).Str("user", snap.DisplayName).Str("platform", snap.OSLabel).Str("address", snap.Address).Msg("peer connected")
	}
	r.sink.OnPeerUpdate(snap)
}

func (r *Registry) onLiveness(in session.Inbound) {
	r.mu.Lock()
	p, ok := r.peers[in.PeerID]
	if !ok {
		r.mu.Unlock()
		r.log.Debug().Str("peer", in.PeerID).Msg("liveness from unknown peer ignored")
		return
	}
	p.LastSeenAt = r.now()
	p.Broker = r.broker()
	changed := p.Tier != TierActive
	p.Tier = TierActive
	snap := *p
	r.mu.Unlock()
	if changed {
		r.sink.OnPeerUpdate(snap)
	}
}

func (r *Registry) onResult(in session.Inbound, kind, text string) {
	r.mu.Lock()
	now := r.now()
	p, known := r.peers[in.PeerID]
	var snap PeerSession
	if known {
		p.Executing = false
		p.CurrentCommand = ""
		p.CommandStartedAt = time.Time{}
		p.LastSeenAt = now
		p.Broker = r.broker()
		p.Tier = TierActive
		snap = *p
	} else {
		snap = PeerSession{PeerID: in.PeerID}
	}
	r.appendHistoryLocked(Message{
		At:        now,
		PeerID:    in.PeerID,
		Direction: DirectionInbound,
		Kind:      kind,
		MessageID: in.MessageID,
		Text:      text,
	})
	r.mu.Unlock()

	r.log.Info().Str("peer", in.PeerID).Str("kind", kind).Int("bytes", len(text)).Msg("result received")
	r.sink.OnMessage(in.PeerID, text, DirectionInbound)
	if known {
		r.sink.OnPeerUpdate(snap)
	}
}

func (r *Registry) saveArtifact(peerID string, b payload.BinaryResult) string {
	if r.artifacts == nil {
		return fmt.Sprintf("[%s] %s (%d bytes, not stored)", b.Tag, b.Filename, len(b.Data))
	}
	path, err := r.artifacts.Save(peerID, b)
	if err != nil {
		r.log.Warn().Str("peer", peerID).Str("file", b.Filename).Err(err).Msg("artifact save failed")
		return fmt.Sprintf("[ERROR] saving %s: %v", b.Filename, err)
	}
	return fmt.Sprintf("[%s] saved %s", b.Tag, path)
}

// Dispatch sends command to peerID unless the peer is unknown or still
// executing. A refused dispatch produces no network activity.
func (r *Registry) Dispatch(ctx context.Context, peerID, command string) (session.Envelope, error) {
	peerID = strings.TrimSpace(peerID)
	if strings.TrimSpace(command) == "" {
		return session.Envelope{}, ErrEmptyCommand
	}
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		observability.RecordDispatch("unknown")
		return session.Envelope{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if p.Executing {
		current := p.CurrentCommand
		r.mu.Unlock()
		observability.RecordDispatch("busy")
		return session.Envelope{}, fmt.Errorf("%w: %s is running %q", ErrPeerBusy, peerID, current)
	}
	now := r.now()
	p.Executing = true
	p.CurrentCommand = command
	p.CommandStartedAt = now
	snap := *p
	r.mu.Unlock()

	env, err := r.out.Send(ctx, peerID, command)
	if err != nil {
		r.mu.Lock()
		p.Executing = false
		p.CurrentCommand = ""
		p.CommandStartedAt = time.Time{}
		r.mu.Unlock()
		observability.RecordDispatch("error")
		return session.Envelope{}, err
	}

	r.mu.Lock()
	r.appendHistoryLocked(Message{
		At:        now,
		PeerID:    peerID,
		Direction: DirectionOutbound,
		Kind:      "command",
		MessageID: env.MessageID,
		Text:      command,
	})
	r.mu.Unlock()

	observability.RecordDispatch("sent")
	r.log.Info().Str("peer", peerID).Str("message_id", env.MessageID).Str("command", command).Msg("command dispatched")
	r.sink.OnMessage(peerID, command, DirectionOutbound)
	r.sink.OnPeerUpdate(snap)
	return env, nil
}

// Reclassify recomputes every peer's tier at now and notifies the sink of
// changes.
func (r *Registry) Reclassify(now time.Time) []PeerSession {
	var changed []PeerSession
	counts := map[string]int{string(TierActive): 0, string(TierIdle): 0, string(TierOffline): 0}
	r.mu.Lock()
	for _, p := range r.peers {
		tier := ClassifyTier(now.Sub(p.LastSeenAt), r.cfg.IdleAfter, r.cfg.OfflineAfter)
		counts[string(tier)]++
		if tier != p.Tier {
			p.Tier = tier
			changed = append(changed, *p)
		}
	}
	r.mu.Unlock()

	observability.SetPeersByTier(counts)
	sortPeers(changed)
	for _, p := range changed {
		r.log.Info().Str("peer", p.PeerID).Str("tier", string(p.Tier)).Msg("peer tier changed")
		r.sink.OnPeerUpdate(p)
	}
	return changed
}

func (r *Registry) RunReclassify(ctx context.Context) error {
	return supervisor.Every(ctx, "mirage.reclassify", r.cfg.ReclassifyInterval, func(context.Context) error {
		r.Reclassify(r.clock())
		return nil
	})
}

// Snapshot returns every peer ordered by id.
func (r *Registry) Snapshot() []PeerSession {
	r.mu.RLock()
	out := make([]PeerSession, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	r.mu.RUnlock()
	sortPeers(out)
	return out
}

func (r *Registry) Get(peerID string) (PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[strings.TrimSpace(peerID)]
	if !ok {
		return PeerSession{}, false
	}
	return *p, true
}

// RecentMessages returns up to limit history entries, oldest first.
func (r *Registry) RecentMessages(limit int) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	return append([]Message(nil), r.history[len(r.history)-limit:]...)
}

func (r *Registry) appendHistoryLocked(m Message) {
	r.history = append(r.history, m)
	if over := len(r.history) - r.cfg.HistoryLimit; over > 0 {
		r.history = append([]Message(nil), r.history[over:]...)
	}
}

func (r *Registry) clock() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

func sortPeers(list []PeerSession) {
	sort.Slice(list, func(i, j int) bool { return list[i].PeerID < list[j].PeerID })
}
