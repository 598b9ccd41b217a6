// Package memrelay is an in-memory relay implementing transport.Dialer for
// tests. Publishes are delivered synchronously on the publisher's goroutine
// to every connection on the same broker with a matching filter.
package memrelay

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/relayctl/internal/protocol/topic"
	"github.com/danmuck/relayctl/internal/transport"
)

var (
	ErrUnreachable = errors.New("memrelay: broker unreachable")
	ErrClosed      = errors.New("memrelay: connection closed")
	ErrDropped     = errors.New("memrelay: connection dropped")
)

// Message is one publish seen by the relay.
type Message struct {
	Broker  string
	Topic   string
	Payload string
}

type Relay struct {
	mu        sync.Mutex
	down      map[string]bool
	failNext  map[string]int
	conns     map[*conn]struct{}
	attempts  []string
	published []Message
}

func New() *Relay {
	return &Relay{
		down:     make(map[string]bool),
		failNext: make(map[string]int),
		conns:    make(map[*conn]struct{}),
	}
}

// SetReachable toggles whether dials to b succeed. Existing connections are
// left alone; use Drop to sever them.
func (r *Relay) SetReachable(b transport.Broker, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down[b.Address()] = !ok
}

// FailNext makes the next n dials to b fail regardless of reachability.
func (r *Relay) FailNext(b transport.Broker, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext[b.Address()] = n
}

// Drop severs every connection to b and reports the loss to each handler.
func (r *Relay) Drop(b transport.Broker) int {
	r.mu.Lock()
	var dropped []*conn
	for c := range r.conns {
		if c.broker == b.Address() {
			c.closed = true
			delete(r.conns, c)
			dropped = append(dropped, c)
		}
	}
	r.mu.Unlock()
	for _, c := range dropped {
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(ErrDropped)
		}
	}
	return len(dropped)
}

// Attempts returns every dialed broker address in order.
func (r *Relay) Attempts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.attempts...)
}

func (r *Relay) AttemptsTo(b transport.Broker) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a == b.Address() {
			n++
		}
	}
	return n
}

// Published returns every accepted publish in order.
func (r *Relay) Published() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.published...)
}

// PublishedOn filters Published by broker and topic.
func (r *Relay) PublishedOn(b transport.Broker, topicName string) []Message {
	var out []Message
	for _, m := range r.Published() {
		if m.Broker == b.Address() && m.Topic == topicName {
			out = append(out, m)
		}
	}
	return out
}

// Connections counts live connections to b.
func (r *Relay) Connections(b transport.Broker) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c := range r.conns {
		if c.broker == b.Address() {
			n++
		}
	}
	return n
}

func (r *Relay) Dial(ctx context.Context, b transport.Broker, _ transport.DialOptions, h transport.Handler) (transport.Conn, error) {
	addr := b.Address()
	r.mu.Lock()
	r.attempts = append(r.attempts, addr)
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if n := r.failNext[addr]; n > 0 {
		r.failNext[addr] = n - 1
		r.mu.Unlock()
		return nil, ErrUnreachable
	}
	if r.down[addr] {
		r.mu.Unlock()
		return nil, ErrUnreachable
	}
	c := &conn{relay: r, broker: addr, h: h}
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	if h.OnConnected != nil {
		h.OnConnected()
	}
	return c, nil
}

func (r *Relay) deliver(from *conn, topicName string, payload []byte) error {
	r.mu.Lock()
	if from.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.published = append(r.published, Message{Broker: from.broker, Topic: topicName, Payload: string(payload)})
	var targets []*conn
	for c := range r.conns {
		if c.broker != from.broker {
			continue
		}
		for _, f := range c.filters {
			if topic.Match(f, topicName) {
				targets = append(targets, c)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if c.h.OnMessage != nil {
			c.h.OnMessage(topicName, append([]byte(nil), payload...))
		}
	}
	return nil
}

type conn struct {
	relay  *Relay
	broker string
	h      transport.Handler

	// guarded by relay.mu
	filters []string
	closed  bool
}

func (c *conn) Publish(_ context.Context, topicName string, payload []byte) error {
	return c.relay.deliver(c, topicName, payload)
}

func (c *conn) Subscribe(_ context.Context, filters ...string) error {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.filters = append(c.filters, filters...)
	return nil
}

func (c *conn) Disconnect() {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	c.closed = true
	delete(c.relay.conns, c)
}

func (c *conn) IsConnected() bool {
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	return !c.closed
}
