package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrMissingMessageID   = errors.New("session: missing message_id")
	ErrDuplicateMessageID = errors.New("session: duplicate pending message_id")
)

// Envelope tracks one reliable frame awaiting acknowledgment.
type Envelope struct {
	MessageID    string    `json:"message_id"`
	PeerID       string    `json:"peer_id"`
	Topic        string    `json:"topic"`
	Payload      string    `json:"-"`
	QueuedAt     time.Time `json:"queued_at"`
	SentAt       time.Time `json:"sent_at"`
	RetryCount   int       `json:"retry_count"`
	Acknowledged bool      `json:"acknowledged"`
	LastError    string    `json:"last_error,omitempty"`
}

// Outbox stores pending envelopes by message_id.
type Outbox struct {
	mu    sync.RWMutex
	items map[string]Envelope
}

func NewOutbox() *Outbox {
	return &Outbox{
		items: make(map[string]Envelope),
	}
}

func (o *Outbox) Insert(env Envelope) error {
	key := strings.TrimSpace(env.MessageID)
	if key == "" {
		return ErrMissingMessageID
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.items[key]; ok {
		return ErrDuplicateMessageID
	}
	o.items[key] = env
	return nil
}

// Ack removes the envelope for messageID. The bool is true only for the call
// that removed it; later or foreign ids report false.
func (o *Outbox) Ack(messageID string) (Envelope, bool) {
	key := strings.TrimSpace(messageID)
	if key == "" {
		return Envelope{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	env, ok := o.items[key]
	if !ok {
		return Envelope{}, false
	}
	delete(o.items, key)
	env.Acknowledged = true
	return env, true
}

// MarkSent refreshes SentAt after a transmission outside the sweep.
func (o *Outbox) MarkSent(messageID string, at time.Time, lastErr string) (Envelope, bool) {
	key := strings.TrimSpace(messageID)
	o.mu.Lock()
	defer o.mu.Unlock()
	env, ok := o.items[key]
	if !ok {
		return Envelope{}, false
	}
	env.SentAt = at
	env.LastError = strings.TrimSpace(lastErr)
	o.items[key] = env
	return env, true
}

// Sweep advances every envelope unacknowledged for longer than timeout.
// Envelopes whose retry count now exceeds maxRetries are removed and
// returned as dropped; the rest get a refreshed SentAt and are returned for
// retransmission.
func (o *Outbox) Sweep(now time.Time, timeout time.Duration, maxRetries int) (resend []Envelope, dropped []Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, env := range o.items {
		if env.Acknowledged || now.Sub(env.SentAt) <= timeout {
			continue
		}
		env.RetryCount++
		if env.RetryCount > maxRetries {
			delete(o.items, key)
			dropped = append(dropped, env)
			continue
		}
		env.SentAt = now
		o.items[key] = env
		resend = append(resend, env)
	}
	sortEnvelopes(resend)
	sortEnvelopes(dropped)
	return resend, dropped
}

func (o *Outbox) Get(messageID string) (Envelope, bool) {
	key := strings.TrimSpace(messageID)
	o.mu.RLock()
	defer o.mu.RUnlock()
	env, ok := o.items[key]
	return env, ok
}

func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// List returns pending envelopes in queue order.
func (o *Outbox) List() []Envelope {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Envelope, 0, len(o.items))
	for _, env := range o.items {
		out = append(out, env)
	}
	sortEnvelopes(out)
	return out
}

func sortEnvelopes(list []Envelope) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].QueuedAt.Equal(list[j].QueuedAt) {
			return list[i].QueuedAt.Before(list[j].QueuedAt)
		}
		return list[i].MessageID < list[j].MessageID
	})
}
