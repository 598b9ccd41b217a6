package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

type published struct {
	Topic   string
	Payload string
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// splitPublisher records untracked frames separately.
type splitPublisher struct {
	recordingPublisher
	unreliable []published
}

func (p *splitPublisher) PublishUnreliable(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreliable = append(p.unreliable, published{Topic: topic, Payload: string(payload)})
	return nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newEndpointChannel(t *testing.T) (*Channel, *recordingPublisher, *fixedClock) {
	t.Helper()
	pub := &recordingPublisher{}
	ch, err := NewChannel(DefaultConfig(RoleEndpoint), pub)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	ch.SetClock(clock.Now)
	return ch, pub, clock
}

func TestConfigDefaultsPerRole(t *testing.T) {
	testlog.Start(t)
	ep := DefaultConfig(RoleEndpoint)
	if ep.AckTimeout != 60*time.Second || ep.MaxRetries != 2 || ep.RetryInterval != 10*time.Second {
		t.Fatalf("unexpected endpoint defaults: %+v", ep)
	}
	ctl := DefaultConfig(RoleController)
	if ctl.AckTimeout != 10*time.Second || ctl.MaxRetries != 3 || ctl.RetryInterval != 2*time.Second {
		t.Fatalf("unexpected controller defaults: %+v", ctl)
	}
	if RoleEndpoint.Outbound() != "c2s" || RoleController.Outbound() != "s2c" {
		t.Fatalf("unexpected outbound directions")
	}
	filled := Config{Role: RoleController}.WithDefaults()
	if filled.Namespace != "demo" || filled.AckTimeout != 10*time.Second {
		t.Fatalf("unexpected filled config: %+v", filled)
	}
	if err := (Config{Role: "bogus", Namespace: "demo", AckTimeout: 1, RetryInterval: 1}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if err := (Config{Role: RoleEndpoint, Namespace: "de+mo", AckTimeout: 1, RetryInterval: 1}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for wildcard namespace, got %v", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	now := time.Unix(1700000000, 0)
	if err := o.Insert(Envelope{MessageID: "m1", QueuedAt: now, SentAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := o.Insert(Envelope{MessageID: "m1"}); !errors.Is(err, ErrDuplicateMessageID) {
		t.Fatalf("expected ErrDuplicateMessageID, got %v", err)
	}
	if err := o.Insert(Envelope{}); !errors.Is(err, ErrMissingMessageID) {
		t.Fatalf("expected ErrMissingMessageID, got %v", err)
	}
	env, ok := o.Ack("m1")
	if !ok || !env.Acknowledged {
		t.Fatalf("expected first ack to remove envelope: %+v ok=%v", env, ok)
	}
	if _, ok := o.Ack("m1"); ok {
		t.Fatalf("second ack must not remove again")
	}
	if o.Len() != 0 {
		t.Fatalf("expected empty outbox")
	}
}

func TestOutboxSweepRetryCeiling(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	start := time.Unix(1700000000, 0)
	_ = o.Insert(Envelope{MessageID: "old", QueuedAt: start, SentAt: start})
	_ = o.Insert(Envelope{MessageID: "fresh", QueuedAt: start.Add(5 * time.Second), SentAt: start.Add(5 * time.Second)})

	resend, dropped := o.Sweep(start.Add(10*time.Second), 10*time.Second, 1)
	if len(resend) != 0 || len(dropped) != 0 {
		t.Fatalf("nothing is older than the timeout yet: resend=%d dropped=%d", len(resend), len(dropped))
	}

	resend, dropped = o.Sweep(start.Add(11*time.Second), 10*time.Second, 1)
	if len(resend) != 1 || resend[0].MessageID != "old" || resend[0].RetryCount != 1 || len(dropped) != 0 {
		t.Fatalf("unexpected first sweep: resend=%+v dropped=%+v", resend, dropped)
	}

	resend, dropped = o.Sweep(start.Add(22*time.Second), 10*time.Second, 1)
	if len(dropped) != 1 || dropped[0].MessageID != "old" {
		t.Fatalf("expected old dropped: %+v", dropped)
	}
	if len(resend) != 1 || resend[0].MessageID != "fresh" {
		t.Fatalf("expected fresh retransmitted: %+v", resend)
	}
	if _, ok := o.Get("old"); ok {
		t.Fatalf("dropped envelope must be removed")
	}
}

func TestChannelSendTracksAndPublishes(t *testing.T) {
	testlog.Start(t)
	ch, pub, _ := newEndpointChannel(t)
	env, err := ch.Send(context.Background(), "p1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if env.Topic != "demo/c2s/p1" {
		t.Fatalf("unexpected topic: %q", env.Topic)
	}
	sent := pub.snapshot()
	if len(sent) != 1 || sent[0].Topic != "demo/c2s/p1" {
		t.Fatalf("unexpected publishes: %+v", sent)
	}
	f := frame.Decode(sent[0].Payload)
	if f.MessageID != env.MessageID || f.Body != "hello" {
		t.Fatalf("unexpected wire frame: %+v", f)
	}
	if len(ch.Pending()) != 1 {
		t.Fatalf("expected one pending envelope")
	}
	if _, err := ch.Send(context.Background(), " ", "x"); !errors.Is(err, ErrPeerRequired) {
		t.Fatalf("expected ErrPeerRequired, got %v", err)
	}
}

func TestChannelAckRemovesOnceAndStopsRetransmission(t *testing.T) {
	testlog.Start(t)
	ch, pub, clock := newEndpointChannel(t)
	ctx := context.Background()
	env, _ := ch.Send(ctx, "p1", "result text")

	ackPayload := frame.Encode(env.MessageID, "result text")
	ch.HandleMessage(ctx, "demo/s2c/p1/ack", []byte(ackPayload))
	if len(ch.Pending()) != 0 {
		t.Fatalf("expected envelope removed on ack")
	}
	// duplicate and foreign acks are silently ignored
	ch.HandleMessage(ctx, "demo/s2c/p1/ack", []byte(ackPayload))
	ch.HandleMessage(ctx, "demo/s2c/p1/ack", []byte(frame.Encode("ffffffff", "x")))
	ch.HandleMessage(ctx, "demo/s2c/p1/ack", []byte("garbage!!"))

	before := len(pub.snapshot())
	res := ch.RetrySweep(ctx, clock.Now().Add(10*time.Minute))
	if res.Retransmitted != 0 || res.Dropped != 0 {
		t.Fatalf("acked envelope must not be retried: %+v", res)
	}
	if len(pub.snapshot()) != before {
		t.Fatalf("unexpected publish after ack")
	}
}

func TestChannelRetrySweepRetransmitsSameIDThenDrops(t *testing.T) {
	testlog.Start(t)
	ch, pub, clock := newEndpointChannel(t)
	ctx := context.Background()
	env, _ := ch.Send(ctx, "p1", "payload")
	start := clock.Now()

	res := ch.RetrySweep(ctx, start.Add(30*time.Second))
	if res.Retransmitted != 0 {
		t.Fatalf("retransmitted before timeout: %+v", res)
	}

	res = ch.RetrySweep(ctx, start.Add(61*time.Second))
	if res.Retransmitted != 1 {
		t.Fatalf("expected retransmit: %+v", res)
	}
	sent := pub.snapshot()
	last := frame.Decode(sent[len(sent)-1].Payload)
	if last.MessageID != env.MessageID || last.Body != "payload" {
		t.Fatalf("retransmit must reuse id: %+v", last)
	}

	res = ch.RetrySweep(ctx, start.Add(122*time.Second))
	if res.Retransmitted != 1 {
		t.Fatalf("expected second retransmit: %+v", res)
	}
	res = ch.RetrySweep(ctx, start.Add(183*time.Second))
	if res.Dropped != 1 || res.Retransmitted != 0 {
		t.Fatalf("expected drop after ceiling: %+v", res)
	}
	if len(ch.Pending()) != 0 {
		t.Fatalf("dropped envelope must leave the table")
	}
	if len(pub.snapshot()) != 3 {
		t.Fatalf("expected 1 send + 2 retransmits, got %d", len(pub.snapshot()))
	}
}

func TestChannelDataFrameDispatchesAndEchoesRaw(t *testing.T) {
	testlog.Start(t)
	ch, pub, _ := newEndpointChannel(t)
	var got []Inbound
	ch.SetReceiver(ReceiverFunc(func(_ context.Context, in Inbound) {
		got = append(got, in)
	}))

	raw := frame.Encode("id1", "whoami")
	ch.HandleMessage(context.Background(), "demo/s2c/p1", []byte(raw))

	if len(got) != 1 {
		t.Fatalf("expected one inbound, got %d", len(got))
	}
	if got[0].PeerID != "p1" || got[0].MessageID != "id1" || got[0].Body != "whoami" || got[0].Raw != raw {
		t.Fatalf("unexpected inbound: %+v", got[0])
	}
	sent := pub.snapshot()
	if len(sent) != 1 || sent[0].Topic != "demo/c2s/p1/ack" || sent[0].Payload != raw {
		t.Fatalf("expected byte-for-byte echo on ack topic: %+v", sent)
	}
}

func TestChannelDataFrameWithoutSeparator(t *testing.T) {
	testlog.Start(t)
	ch, pub, _ := newEndpointChannel(t)
	var got Inbound
	ch.SetReceiver(ReceiverFunc(func(_ context.Context, in Inbound) { got = in }))
	ch.HandleMessage(context.Background(), "demo/s2c/p1", []byte("plain text, not encoded"))
	if got.MessageID != "" || got.Body != "plain text, not encoded" {
		t.Fatalf("unexpected tolerant decode: %+v", got)
	}
	if len(pub.snapshot()) != 1 {
		t.Fatalf("data frames are always acked")
	}
}

type livenessRecorder struct {
	mu  sync.Mutex
	ats []time.Time
}

func (l *livenessRecorder) OnLivenessAck(_ context.Context, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ats = append(l.ats, at)
}

func TestChannelHeartbeatAckGoesToObserver(t *testing.T) {
	testlog.Start(t)
	ch, _, _ := newEndpointChannel(t)
	rec := &livenessRecorder{}
	ch.SetLivenessObserver(rec)
	env, _ := ch.Send(context.Background(), "p1", "tracked")

	ch.HandleMessage(context.Background(), "demo/s2c/p1/ack", []byte(frame.Encode(frame.NewHeartbeatID(), frame.LivenessMarker)))
	if len(rec.ats) != 1 {
		t.Fatalf("expected one liveness ack, got %d", len(rec.ats))
	}
	if _, ok := ch.outbox.Get(env.MessageID); !ok {
		t.Fatalf("heartbeat ack must not touch tracked envelopes")
	}
}

func TestChannelSendUnreliablePrefersUntrackedPublish(t *testing.T) {
	testlog.Start(t)
	pub := &splitPublisher{}
	ch, err := NewChannel(DefaultConfig(RoleEndpoint), pub)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	ctx := context.Background()
	id := frame.NewHeartbeatID()
	if err := ch.SendUnreliable(ctx, "p1", id, frame.LivenessMarker); err != nil {
		t.Fatalf("send unreliable: %v", err)
	}
	if _, err := ch.Send(ctx, "p1", "tracked"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.unreliable) != 1 || pub.unreliable[0].Topic != "demo/c2s/p1" {
		t.Fatalf("unexpected untracked publishes: %+v", pub.unreliable)
	}
	if got := pub.unreliable[0].Payload; got != frame.Encode(id, frame.LivenessMarker) {
		t.Fatalf("unexpected heartbeat frame: %q", got)
	}
	if sent := pub.snapshot(); len(sent) != 1 {
		t.Fatalf("tracked send must use the reliable path: %+v", sent)
	}
	if len(ch.Pending()) != 1 {
		t.Fatalf("unexpected pending count: %d", len(ch.Pending()))
	}
}

func TestChannelIgnoresForeignTopics(t *testing.T) {
	testlog.Start(t)
	ch, pub, _ := newEndpointChannel(t)
	called := false
	ch.SetReceiver(ReceiverFunc(func(context.Context, Inbound) { called = true }))
	ch.HandleMessage(context.Background(), "demo/c2s/p1", []byte(frame.Encode("x", "y")))
	ch.HandleMessage(context.Background(), "elsewhere/s2c/p1", []byte(frame.Encode("x", "y")))
	if called || len(pub.snapshot()) != 0 {
		t.Fatalf("frames on outbound or foreign topics must be ignored")
	}
}

func TestChannelPublishFailureLeftForRetry(t *testing.T) {
	testlog.Start(t)
	ch, pub, clock := newEndpointChannel(t)
	pub.setErr(errors.New("not connected"))
	env, err := ch.Send(context.Background(), "p1", "queued")
	if err != nil {
		t.Fatalf("send must not fail on publish error: %v", err)
	}
	if env.LastError == "" {
		t.Fatalf("expected last error recorded")
	}
	pub.setErr(nil)
	res := ch.RetrySweep(context.Background(), clock.Now().Add(61*time.Second))
	if res.Retransmitted != 1 || len(pub.snapshot()) != 1 {
		t.Fatalf("expected retransmit once transport recovers: %+v sent=%d", res, len(pub.snapshot()))
	}
}

func TestChannelRetransmitPending(t *testing.T) {
	testlog.Start(t)
	ch, pub, _ := newEndpointChannel(t)
	ctx := context.Background()
	a, _ := ch.Send(ctx, "p1", "a")
	b, _ := ch.Send(ctx, "p1", "b")
	ch.HandleMessage(ctx, "demo/s2c/p1/ack", []byte(frame.Encode(a.MessageID, "a")))

	before := len(pub.snapshot())
	if n := ch.RetransmitPending(ctx); n != 1 {
		t.Fatalf("expected one resend, got %d", n)
	}
	sent := pub.snapshot()[before:]
	if len(sent) != 1 || frame.Decode(sent[0].Payload).MessageID != b.MessageID {
		t.Fatalf("unexpected resend: %+v", sent)
	}
}

func TestChannelSubscriptions(t *testing.T) {
	testlog.Start(t)
	ep, _, _ := newEndpointChannel(t)
	subs := ep.Subscriptions("p1")
	if len(subs) != 2 || subs[0] != "demo/s2c/p1" || subs[1] != "demo/s2c/p1/ack" {
		t.Fatalf("unexpected endpoint subscriptions: %+v", subs)
	}
	ctl, err := NewChannel(DefaultConfig(RoleController), &recordingPublisher{})
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	subs = ctl.Subscriptions("")
	if len(subs) != 2 || subs[0] != "demo/c2s/+" || subs[1] != "demo/c2s/+/ack" {
		t.Fatalf("unexpected controller subscriptions: %+v", subs)
	}
	if _, err := NewChannel(DefaultConfig(RoleController), nil); !errors.Is(err, ErrPublisherRequired) {
		t.Fatalf("expected ErrPublisherRequired, got %v", err)
	}
}
