package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/relayctl/internal/protocol/topic"
	"github.com/danmuck/relayctl/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidRelayConfig = errors.New("config: invalid relay config")

// RelayConfig is the relay file shared by miragectl and ghostctl.
type RelayConfig struct {
	Namespace string        `toml:"namespace"`
	Brokers   []BrokerEntry `toml:"brokers"`
}

type BrokerEntry struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DefaultRelayConfig returns the public relays under the default namespace.
func DefaultRelayConfig() RelayConfig {
	cfg := RelayConfig{Namespace: topic.DefaultNamespace}
	for _, b := range transport.DefaultBrokers() {
		cfg.Brokers = append(cfg.Brokers, BrokerEntry{Host: b.Host, Port: b.Port})
	}
	return cfg
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	def := DefaultRelayConfig()
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = def.Namespace
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = def.Brokers
	}
	for i := range cfg.Brokers {
		if cfg.Brokers[i].Port == 0 {
			cfg.Brokers[i].Port = 1883
		}
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	ns := strings.TrimSpace(cfg.Namespace)
	if ns == "" {
		return fmt.Errorf("%w: namespace required", ErrInvalidRelayConfig)
	}
	if strings.ContainsAny(ns, "+#/") {
		return fmt.Errorf("%w: namespace %q must be a single topic level", ErrInvalidRelayConfig, ns)
	}
	if err := cfg.BrokerList().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRelayConfig, err)
	}
	return nil
}

// BrokerList returns the brokers in preference order.
func (c RelayConfig) BrokerList() transport.BrokerList {
	out := make(transport.BrokerList, 0, len(c.Brokers))
	for _, b := range c.Brokers {
		out = append(out, transport.Broker{Host: strings.TrimSpace(b.Host), Port: b.Port})
	}
	return out
}

// Encode renders cfg as TOML.
func (c RelayConfig) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
