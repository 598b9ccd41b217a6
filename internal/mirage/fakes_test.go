package mirage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/relayctl/internal/protocol/session"
	"github.com/danmuck/relayctl/internal/transport"
)

type sentCommand struct {
	Peer string
	Body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCommand
	err  error
	seq  int
}

func (f *fakeSender) Send(_ context.Context, peerID, body string) (session.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return session.Envelope{}, f.err
	}
	f.seq++
	f.sent = append(f.sent, sentCommand{Peer: peerID, Body: body})
	return session.Envelope{MessageID: fmt.Sprintf("m%d", f.seq), PeerID: peerID}, nil
}

func (f *fakeSender) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) snapshot() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

type sinkMessage struct {
	Peer string
	Text string
	Dir  Direction
}

type recordingSink struct {
	mu       sync.Mutex
	updates  []PeerSession
	messages []sinkMessage
	inbound  chan sinkMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{inbound: make(chan sinkMessage, 64)}
}

func (s *recordingSink) OnPeerUpdate(p PeerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, p)
}

func (s *recordingSink) OnMessage(peerID, text string, dir Direction) {
	m := sinkMessage{Peer: peerID, Text: text, Dir: dir}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	if dir == DirectionInbound {
		select {
		case s.inbound <- m:
		default:
		}
	}
}

func (s *recordingSink) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *recordingSink) lastUpdate() PeerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return PeerSession{}
	}
	return s.updates[len(s.updates)-1]
}

func (s *recordingSink) messageSnapshot() []sinkMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkMessage(nil), s.messages...)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeBrokerState struct {
	status transport.Status
}

func (f fakeBrokerState) Status() transport.Status {
	return f.status
}

type fakePending struct {
	list []session.Envelope
}

func (f fakePending) Pending() []session.Envelope {
	return f.list
}

var errPublish = errors.New("publish refused")

func handshakeFrame(peer, user string) session.Inbound {
	return session.Inbound{
		PeerID:    peer,
		MessageID: "h-" + peer,
		Body:      peer + "#10.0.0.5#" + user + "#windows/amd64",
	}
}

func resultFrame(peer, body string) session.Inbound {
	return session.Inbound{PeerID: peer, MessageID: "r-" + peer, Body: body}
}

func livenessFrame(peer string) session.Inbound {
	return session.Inbound{PeerID: peer, MessageID: "HB000001", Body: "PING"}
}
