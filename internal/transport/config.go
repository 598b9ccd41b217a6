package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("transport: invalid config")

// Config holds the connection policy for one session.
type Config struct {
	// Role labels logs and metrics ("endpoint" or "controller").
	Role     string
	ClientID string
	Brokers  BrokerList

	PrimaryAttempts int
	PrimaryTimeout  time.Duration
	PrimaryPause    time.Duration
	BackupTimeout   time.Duration

	ProbeTimeout     time.Duration
	SwitchAttempts   int
	WatchdogInterval time.Duration
	RecoveryInterval time.Duration

	ReconnectInterval time.Duration
	KeepAlive         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Role:              "endpoint",
		Brokers:           DefaultBrokers(),
		PrimaryAttempts:   3,
		PrimaryTimeout:    10 * time.Second,
		PrimaryPause:      time.Second,
		BackupTimeout:     5 * time.Second,
		ProbeTimeout:      5 * time.Second,
		SwitchAttempts:    2,
		WatchdogInterval:  30 * time.Second,
		RecoveryInterval:  time.Minute,
		ReconnectInterval: 5 * time.Second,
		KeepAlive:         30 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Role) == "" {
		c.Role = def.Role
	}
	if len(c.Brokers) == 0 {
		c.Brokers = def.Brokers
	}
	if c.PrimaryAttempts <= 0 {
		c.PrimaryAttempts = def.PrimaryAttempts
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = def.PrimaryTimeout
	}
	if c.PrimaryPause < 0 {
		c.PrimaryPause = def.PrimaryPause
	}
	if c.BackupTimeout <= 0 {
		c.BackupTimeout = def.BackupTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.SwitchAttempts <= 0 {
		c.SwitchAttempts = def.SwitchAttempts
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = def.RecoveryInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: client id required", ErrInvalidConfig)
	}
	if err := c.Brokers.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
