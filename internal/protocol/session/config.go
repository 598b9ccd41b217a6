package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/relayctl/internal/protocol/topic"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// Role selects the deployment side of a channel.
type Role string

const (
	RoleEndpoint   Role = "endpoint"
	RoleController Role = "controller"
)

// Outbound is the data direction this role publishes on.
func (r Role) Outbound() topic.Direction {
	if r == RoleController {
		return topic.ServerToClient
	}
	return topic.ClientToServer
}

// Inbound is the data direction this role consumes.
func (r Role) Inbound() topic.Direction {
	return r.Outbound().Reverse()
}

// Config defines channel reliability constants for one role.
type Config struct {
	Role          Role
	Namespace     string
	AckTimeout    time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns the role's reliability constants. Endpoints are
// patient (60s, 2 retries); the controller is aggressive (10s, 3 retries).
func DefaultConfig(role Role) Config {
	if role == RoleController {
		return Config{
			Role:          RoleController,
			Namespace:     topic.DefaultNamespace,
			AckTimeout:    10 * time.Second,
			MaxRetries:    3,
			RetryInterval: 2 * time.Second,
		}
	}
	return Config{
		Role:          RoleEndpoint,
		Namespace:     topic.DefaultNamespace,
		AckTimeout:    60 * time.Second,
		MaxRetries:    2,
		RetryInterval: 10 * time.Second,
	}
}

// WithDefaults fills zero-valued fields from the role defaults.
func (c Config) WithDefaults() Config {
	if c.Role == "" {
		c.Role = RoleEndpoint
	}
	def := DefaultConfig(c.Role)
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = def.Namespace
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	return c
}

func (c Config) Validate() error {
	if c.Role != RoleEndpoint && c.Role != RoleController {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}
	if strings.TrimSpace(c.Namespace) == "" || strings.ContainsAny(c.Namespace, "+#") {
		return fmt.Errorf("%w: namespace %q", ErrInvalidConfig, c.Namespace)
	}
	if c.AckTimeout <= 0 || c.RetryInterval <= 0 {
		return fmt.Errorf("%w: non-positive timing", ErrInvalidConfig)
	}
	return nil
}
