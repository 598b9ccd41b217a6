package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/ghost"
)

// ghostctl config.toml key mapping to endpoint runtime settings.
type fileConfig struct {
	ID                string `toml:"id"`
	RelayConfig       string `toml:"relay_config"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	LivenessTimeout   string `toml:"liveness_timeout"`
	AckWatchInterval  string `toml:"ack_watch_interval"`
	CommandTimeout    string `toml:"command_timeout"`
	AckTimeout        string `toml:"ack_timeout"`
	MaxRetries        int    `toml:"max_retries"`
	RetryInterval     string `toml:"retry_interval"`
	WatchdogInterval  string `toml:"watchdog_interval"`
	ReconnectInterval string `toml:"reconnect_interval"`
	RecoveryInterval  string `toml:"recovery_interval"`
}

// loadServiceConfig overlays path on the endpoint defaults. relayOverride,
// when set, wins over relay_config. An empty path yields the defaults.
func loadServiceConfig(path, relayOverride string) (ghost.ServiceConfig, error) {
	cfg := ghost.DefaultServiceConfig()

	var raw fileConfig
	relayPath := ""
	if strings.TrimSpace(path) != "" {
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: %w", err)
		}

		if meta.IsDefined("id") {
			cfg.PeerID = strings.TrimSpace(raw.ID)
		}
		if meta.IsDefined("relay_config") {
			relayPath = resolveRelative(path, raw.RelayConfig)
		}
		if meta.IsDefined("max_retries") {
			if raw.MaxRetries < 0 {
				return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: max_retries must be >= 0")
			}
			cfg.Channel.MaxRetries = raw.MaxRetries
		}

		durations := []struct {
			key string
			raw string
			dst *time.Duration
		}{
			{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Heartbeat.PingInterval},
			{"liveness_timeout", raw.LivenessTimeout, &cfg.Heartbeat.LivenessTimeout},
			{"ack_watch_interval", raw.AckWatchInterval, &cfg.Heartbeat.WatchInterval},
			{"command_timeout", raw.CommandTimeout, &cfg.CommandTimeout},
			{"ack_timeout", raw.AckTimeout, &cfg.Channel.AckTimeout},
			{"retry_interval", raw.RetryInterval, &cfg.Channel.RetryInterval},
			{"watchdog_interval", raw.WatchdogInterval, &cfg.Transport.WatchdogInterval},
			{"reconnect_interval", raw.ReconnectInterval, &cfg.Transport.ReconnectInterval},
			{"recovery_interval", raw.RecoveryInterval, &cfg.Transport.RecoveryInterval},
		}
		for _, d := range durations {
			if !meta.IsDefined(d.key) {
				continue
			}
			v, err := time.ParseDuration(strings.TrimSpace(d.raw))
			if err != nil {
				return ghost.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			if v <= 0 {
				return ghost.ServiceConfig{}, fmt.Errorf("parse %s: must be positive", d.key)
			}
			*d.dst = v
		}
	}

	if strings.TrimSpace(relayOverride) != "" {
		relayPath = relayOverride
	}
	if relayPath != "" {
		relay, err := config.LoadRelayConfig(relayPath)
		if err != nil {
			return ghost.ServiceConfig{}, err
		}
		cfg.Relay = relay
	}

	if cfg.PeerID != "" {
		if err := ghost.ValidatePeerID(cfg.PeerID); err != nil {
			return ghost.ServiceConfig{}, fmt.Errorf("load ghost config: %w", err)
		}
	}
	return cfg, nil
}

// resolveRelative resolves target against the directory holding configPath.
func resolveRelative(configPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
