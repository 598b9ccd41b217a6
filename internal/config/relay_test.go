package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadRelayConfigPreservesBrokerOrder(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `namespace = "lab"

[[brokers]]
host = "primary.local"
port = 1884

[[brokers]]
host = "backup.local"
`)
	cfg, err := LoadRelayConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	list := cfg.BrokerList()
	if cfg.Namespace != "lab" || len(list) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if list[0].Address() != "primary.local:1884" || list[1].Address() != "backup.local:1883" {
		t.Fatalf("unexpected brokers: %v", list)
	}
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadRelayConfig(writeFile(t, "# empty\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Namespace != "demo" || len(cfg.Brokers) != 3 || cfg.Brokers[0].Host != "broker.hivemq.com" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestValidateRelayConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := []RelayConfig{
		{Namespace: "a/b", Brokers: []BrokerEntry{{Host: "h", Port: 1883}}},
		{Namespace: "#", Brokers: []BrokerEntry{{Host: "h", Port: 1883}}},
		{Namespace: "demo", Brokers: []BrokerEntry{{Host: "", Port: 1883}}},
		{Namespace: "demo", Brokers: []BrokerEntry{{Host: "h", Port: 70000}}},
		{Namespace: "demo"},
	}
	for i, cfg := range cases {
		if err := ValidateRelayConfig(cfg); !errors.Is(err, ErrInvalidRelayConfig) {
			t.Fatalf("case %d: expected ErrInvalidRelayConfig, got %v", i, err)
		}
	}
}

func TestRelayTemplateLoads(t *testing.T) {
	testlog.Start(t)
	body, err := Template("relay")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := LoadRelayConfig(writeFile(t, body))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if len(cfg.Brokers) != 3 {
		t.Fatalf("unexpected template brokers: %+v", cfg.Brokers)
	}
	if _, err := Template("seed"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "ghost.toml")
	if err := WriteTemplate(path, "ghost", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, "ghost", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "mirage", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}
