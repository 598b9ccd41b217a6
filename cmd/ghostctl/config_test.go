package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/relayctl/internal/config"
	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	writeConfig(t, dir, "relay.toml", `namespace = "lab"

[[brokers]]
host = "primary.local"

[[brokers]]
host = "backup.local"
port = 8883
`)
	path := writeConfig(t, dir, "config.toml", `
id = "a1b2c3d4"
relay_config = "relay.toml"
heartbeat_interval = "5s"
liveness_timeout = "20s"
command_timeout = "15s"
max_retries = 4
recovery_interval = "2m"
`)

	cfg, err := loadServiceConfig(path, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PeerID != "a1b2c3d4" {
		t.Fatalf("unexpected peer id: %q", cfg.PeerID)
	}
	if cfg.Heartbeat.PingInterval != 5*time.Second || cfg.Heartbeat.LivenessTimeout != 20*time.Second {
		t.Fatalf("unexpected heartbeat: %+v", cfg.Heartbeat)
	}
	if cfg.Heartbeat.WatchInterval != 5*time.Second {
		t.Fatalf("ack watch interval should keep its default: %v", cfg.Heartbeat.WatchInterval)
	}
	if cfg.CommandTimeout != 15*time.Second || cfg.Channel.MaxRetries != 4 {
		t.Fatalf("unexpected command/channel settings: %v %d", cfg.CommandTimeout, cfg.Channel.MaxRetries)
	}
	if cfg.Channel.AckTimeout != 60*time.Second {
		t.Fatalf("ack timeout should keep the endpoint default: %v", cfg.Channel.AckTimeout)
	}
	if cfg.Transport.RecoveryInterval != 2*time.Minute {
		t.Fatalf("unexpected recovery interval: %v", cfg.Transport.RecoveryInterval)
	}
	if cfg.Relay.Namespace != "lab" || len(cfg.Relay.Brokers) != 2 {
		t.Fatalf("unexpected relay: %+v", cfg.Relay)
	}
	if cfg.Relay.Brokers[0].Host != "primary.local" || cfg.Relay.Brokers[0].Port != 1883 {
		t.Fatalf("primary must stay first with the default port: %+v", cfg.Relay.Brokers[0])
	}
}

func TestLoadServiceConfigWithoutFileUsesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("", "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Relay.Namespace != config.DefaultRelayConfig().Namespace {
		t.Fatalf("unexpected namespace: %q", cfg.Relay.Namespace)
	}
	if cfg.Heartbeat.PingInterval != 10*time.Second {
		t.Fatalf("unexpected ping interval: %v", cfg.Heartbeat.PingInterval)
	}
}

func TestLoadServiceConfigRelayFlagWins(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	writeConfig(t, dir, "relay.toml", `namespace = "fromfile"`)
	override := writeConfig(t, dir, "other.toml", `namespace = "fromflag"`)
	path := writeConfig(t, dir, "config.toml", `relay_config = "relay.toml"`)

	cfg, err := loadServiceConfig(path, override)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Relay.Namespace != "fromflag" {
		t.Fatalf("relay flag must override relay_config, got %q", cfg.Relay.Namespace)
	}
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	for name, body := range map[string]string{
		"bad_duration.toml": `heartbeat_interval = "soon"`,
		"negative.toml":     `ack_timeout = "-1s"`,
		"bad_id.toml":       `id = "a/b"`,
		"bad_retries.toml":  `max_retries = -1`,
	} {
		path := writeConfig(t, dir, name, body)
		if _, err := loadServiceConfig(path, ""); err == nil {
			t.Fatalf("expected error for %s", name)
		}
	}
}
