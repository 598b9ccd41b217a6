package ghost

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/relayctl/internal/protocol/session"
)

type sentFrame struct {
	Kind string
	Peer string
	ID   string
	Body string
}

// fakeChannel records every outbound call made through the channel surface.
type fakeChannel struct {
	mu      sync.Mutex
	frames  []sentFrame
	sendErr error
}

func (f *fakeChannel) Send(_ context.Context, peerID, body string) (session.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return session.Envelope{}, f.sendErr
	}
	id := fmt.Sprintf("m%d", len(f.frames)+1)
	f.frames = append(f.frames, sentFrame{Kind: "send", Peer: peerID, ID: id, Body: body})
	return session.Envelope{MessageID: id, PeerID: peerID, Payload: body}, nil
}

func (f *fakeChannel) SendUnreliable(_ context.Context, peerID, messageID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{Kind: "unreliable", Peer: peerID, ID: messageID, Body: body})
	return nil
}

func (f *fakeChannel) Acknowledge(_ context.Context, peerID, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{Kind: "ack", Peer: peerID, Body: raw})
	return nil
}

func (f *fakeChannel) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChannel) snapshot() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

func (f *fakeChannel) ofKind(kind string) []sentFrame {
	var out []sentFrame
	for _, fr := range f.snapshot() {
		if fr.Kind == kind {
			out = append(out, fr)
		}
	}
	return out
}

func testIdentity() Identity {
	return Identity{PeerID: "p1", Address: "10.0.0.5", User: `DOMAIN\user`, Platform: "linux/amd64"}
}
