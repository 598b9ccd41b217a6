package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "ghost":
		return ghostTemplate, nil
	case "mirage":
		return mirageTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const relayTemplate = `namespace = "demo"

# first entry is the primary broker
[[brokers]]
host = "broker.hivemq.com"
port = 1883

[[brokers]]
host = "test.mosquitto.org"
port = 1883

[[brokers]]
host = "broker.emqx.io"
port = 1883
`

const ghostTemplate = `# id = "a1b2c3d4"
relay_config = "relay.toml"
heartbeat_interval = "10s"
liveness_timeout = "30s"
ack_watch_interval = "5s"
command_timeout = "30s"
ack_timeout = "60s"
max_retries = 2
retry_interval = "10s"
watchdog_interval = "30s"
reconnect_interval = "5s"
recovery_interval = "1m"
`

const mirageTemplate = `id = "mirage"
relay_config = "relay.toml"
admin_addr = "127.0.0.1:7020"
cors_origins = ["http://localhost:3000"]
artifact_dir = "local/artifacts"
roster_path = "local/roster.yaml"
history_limit = 500
ack_timeout = "10s"
max_retries = 3
retry_interval = "2s"
watchdog_interval = "10s"
reconnect_interval = "5s"
recovery_interval = "1m"
reclassify_interval = "1s"
idle_after = "30s"
offline_after = "60s"
`
