package transport

import (
	"context"
	"time"
)

// Handler receives connection events from one Conn. Any field may be nil.
type Handler struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnMessage      func(topic string, payload []byte)
}

// DialOptions parameterizes one connection attempt.
type DialOptions struct {
	ClientID  string
	Timeout   time.Duration
	KeepAlive time.Duration
}

// Conn is one live relay connection. It is never reused after Disconnect.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, filters ...string) error
	Disconnect()
	IsConnected() bool
}

// UnreliablePublisher is implemented by connections that can publish without
// broker confirmation. Session falls back to Publish when a Conn lacks it.
type UnreliablePublisher interface {
	PublishUnreliable(ctx context.Context, topic string, payload []byte) error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, broker Broker, opts DialOptions, h Handler) (Conn, error)
}
