// Package mqtt implements transport.Dialer on the Eclipse Paho client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/transport"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	// QoS is used for subscriptions and tracked publishes.
	QoS byte = 1
	// UnreliableQoS is used for untracked frames such as heartbeats.
	UnreliableQoS byte = 0

	disconnectQuiesce = 250 // ms
)

var ErrTimeout = errors.New("mqtt: operation timed out")

var (
	_ transport.Dialer              = (*Dialer)(nil)
	_ transport.UnreliablePublisher = (*conn)(nil)
)

// Dialer opens clean-session Paho clients with auto-reconnect disabled;
// reconnects belong to transport.Session. Message handlers run on their own
// goroutines and may publish.
type Dialer struct {
	log zerolog.Logger
}

func NewDialer() *Dialer {
	return &Dialer{log: logging.L("mqtt")}
}

func (d *Dialer) Dial(ctx context.Context, b transport.Broker, opts transport.DialOptions, h transport.Handler) (transport.Conn, error) {
	co := paho.NewClientOptions().
		AddBroker("tcp://" + b.Address()).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		// Handlers publish acks; with ordered delivery that blocks the router.
		SetOrderMatters(false).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.Timeout).
		SetOnConnectHandler(func(paho.Client) {
			if h.OnConnected != nil {
				h.OnConnected()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if h.OnDisconnected != nil {
				h.OnDisconnected(err)
			}
		}).
		SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
			if h.OnMessage != nil {
				h.OnMessage(m.Topic(), m.Payload())
			}
		})

	client := paho.NewClient(co)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", b.Address(), err)
	}
	d.log.Debug().Str("broker", b.Address()).Str("client_id", opts.ClientID).Msg("client connected")
	return &conn{client: client, h: h}, nil
}

type conn struct {
	client paho.Client
	h      transport.Handler
}

func (c *conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (c *conn) PublishUnreliable(ctx context.Context, topic string, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, UnreliableQoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (c *conn) Subscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	set := make(map[string]byte, len(filters))
	for _, f := range filters {
		set[f] = QoS
	}
	onMessage := func(_ paho.Client, m paho.Message) {
		if c.h.OnMessage != nil {
			c.h.OnMessage(m.Topic(), m.Payload())
		}
	}
	if err := wait(ctx, c.client.SubscribeMultiple(set, onMessage)); err != nil {
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}
	return nil
}

func (c *conn) Disconnect() {
	c.client.Disconnect(disconnectQuiesce)
}

func (c *conn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// wait blocks until tok completes or ctx ends. Contexts without a deadline
// get a 30s bound.
func wait(ctx context.Context, tok paho.Token) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
