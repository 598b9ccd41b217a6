package mirage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Roster is the exported peer list.
type Roster struct {
	GeneratedAt time.Time     `yaml:"generated_at"`
	Broker      string        `yaml:"broker,omitempty"`
	Peers       []PeerSession `yaml:"peers"`
}

// ExportRoster renders the current peer table as YAML.
func (r *Registry) ExportRoster() ([]byte, error) {
	r.mu.RLock()
	now := r.now()
	broker := r.broker()
	r.mu.RUnlock()
	roster := Roster{
		GeneratedAt: now.UTC(),
		Broker:      broker,
		Peers:       r.Snapshot(),
	}
	out, err := yaml.Marshal(roster)
	if err != nil {
		return nil, fmt.Errorf("encode roster: %w", err)
	}
	return out, nil
}

// WriteRoster writes the YAML roster to path, creating parent directories.
func (r *Registry) WriteRoster(path string) error {
	data, err := r.ExportRoster()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create roster dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}
