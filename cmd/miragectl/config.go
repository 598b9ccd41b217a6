package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/mirage"
)

// miragectl config.toml key mapping to controller runtime settings.
type fileConfig struct {
	ID                 string   `toml:"id"`
	RelayConfig        string   `toml:"relay_config"`
	AdminAddr          string   `toml:"admin_addr"`
	CORSOrigins        []string `toml:"cors_origins"`
	ArtifactDir        string   `toml:"artifact_dir"`
	RosterPath         string   `toml:"roster_path"`
	HistoryLimit       int      `toml:"history_limit"`
	AckTimeout         string   `toml:"ack_timeout"`
	MaxRetries         int      `toml:"max_retries"`
	RetryInterval      string   `toml:"retry_interval"`
	WatchdogInterval   string   `toml:"watchdog_interval"`
	ReconnectInterval  string   `toml:"reconnect_interval"`
	RecoveryInterval   string   `toml:"recovery_interval"`
	ReclassifyInterval string   `toml:"reclassify_interval"`
	IdleAfter          string   `toml:"idle_after"`
	OfflineAfter       string   `toml:"offline_after"`
}

// miragectl loader for TOML config with default overlay.
func loadServiceConfig(path, relayOverride string) (mirage.ServiceConfig, error) {
	cfg := mirage.DefaultServiceConfig()

	var raw fileConfig
	relayPath := ""
	if strings.TrimSpace(path) != "" {
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return mirage.ServiceConfig{}, fmt.Errorf("load mirage config: %w", err)
		}

		if meta.IsDefined("id") {
			if id := strings.TrimSpace(raw.ID); id != "" {
				cfg.ID = id
			}
		}
		if meta.IsDefined("relay_config") {
			relayPath = resolveRelative(path, raw.RelayConfig)
		}
		if meta.IsDefined("admin_addr") {
			cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
		}
		if meta.IsDefined("cors_origins") {
			cfg.CORSOrigins = raw.CORSOrigins
		}
		if meta.IsDefined("artifact_dir") {
			cfg.ArtifactDir = resolveRelative(path, raw.ArtifactDir)
		}
		if meta.IsDefined("roster_path") {
			cfg.RosterPath = resolveRelative(path, raw.RosterPath)
		}
		if meta.IsDefined("history_limit") {
			if raw.HistoryLimit <= 0 {
				return mirage.ServiceConfig{}, fmt.Errorf("load mirage config: history_limit must be positive")
			}
			cfg.Registry.HistoryLimit = raw.HistoryLimit
		}
		if meta.IsDefined("max_retries") {
			if raw.MaxRetries < 0 {
				return mirage.ServiceConfig{}, fmt.Errorf("load mirage config: max_retries must be >= 0")
			}
			cfg.Channel.MaxRetries = raw.MaxRetries
		}

		durations := []struct {
			key string
			raw string
			dst *time.Duration
		}{
			{"ack_timeout", raw.AckTimeout, &cfg.Channel.AckTimeout},
			{"retry_interval", raw.RetryInterval, &cfg.Channel.RetryInterval},
			{"watchdog_interval", raw.WatchdogInterval, &cfg.Transport.WatchdogInterval},
			{"reconnect_interval", raw.ReconnectInterval, &cfg.Transport.ReconnectInterval},
			{"recovery_interval", raw.RecoveryInterval, &cfg.Transport.RecoveryInterval},
			{"reclassify_interval", raw.ReclassifyInterval, &cfg.Registry.ReclassifyInterval},
			{"idle_after", raw.IdleAfter, &cfg.Registry.IdleAfter},
			{"offline_after", raw.OfflineAfter, &cfg.Registry.OfflineAfter},
		}
		for _, d := range durations {
			if !meta.IsDefined(d.key) {
				continue
			}
			v, err := time.ParseDuration(strings.TrimSpace(d.raw))
			if err != nil {
				return mirage.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			if v <= 0 {
				return mirage.ServiceConfig{}, fmt.Errorf("parse %s: must be positive", d.key)
			}
			*d.dst = v
		}
	}

	if cfg.Registry.OfflineAfter < cfg.Registry.IdleAfter {
		return mirage.ServiceConfig{}, fmt.Errorf(
			"load mirage config: offline_after (%s) must not be shorter than idle_after (%s)",
			cfg.Registry.OfflineAfter,
			cfg.Registry.IdleAfter,
		)
	}

	if strings.TrimSpace(relayOverride) != "" {
		relayPath = relayOverride
	}
	if relayPath != "" {
		relay, err := config.LoadRelayConfig(relayPath)
		if err != nil {
			return mirage.ServiceConfig{}, err
		}
		cfg.Relay = relay
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
