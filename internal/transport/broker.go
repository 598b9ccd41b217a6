package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidBroker = errors.New("transport: invalid broker")

// Broker is one relay endpoint.
type Broker struct {
	Host string
	Port int
}

func (b Broker) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

func (b Broker) String() string {
	return b.Address()
}

func (b Broker) Validate() error {
	if strings.TrimSpace(b.Host) == "" {
		return fmt.Errorf("%w: host required", ErrInvalidBroker)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidBroker, b.Port)
	}
	return nil
}

// BrokerList is ordered by preference; index 0 is the primary.
type BrokerList []Broker

// DefaultBrokers are the public relays used when no relay file is given.
func DefaultBrokers() BrokerList {
	return BrokerList{
		{Host: "broker.hivemq.com", Port: 1883},
		{Host: "test.mosquitto.org", Port: 1883},
		{Host: "broker.emqx.io", Port: 1883},
	}
}

func (l BrokerList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: empty broker list", ErrInvalidBroker)
	}
	for i, b := range l {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("broker[%d]: %w", i, err)
		}
	}
	return nil
}

// Label names the broker's role in the list.
func Label(index int) string {
	switch {
	case index < 0:
		return "none"
	case index == 0:
		return "primary"
	default:
		return fmt.Sprintf("backup-%d", index)
	}
}
