package mirage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/relayctl/internal/protocol/payload"
)

var ErrInvalidArtifact = errors.New("mirage: invalid artifact")

const DefaultArtifactDir = "artifacts"

// ArtifactStore writes binary results under {root}/{peer}/.
type ArtifactStore struct {
	root string
	now  func() time.Time
}

func NewArtifactStore(root string) *ArtifactStore {
	if strings.TrimSpace(root) == "" {
		root = DefaultArtifactDir
	}
	return &ArtifactStore{root: root, now: time.Now}
}

func (s *ArtifactStore) Root() string {
	return s.root
}

// Save writes b and returns the written path. Screenshots get a timestamped
// name; files keep their sanitized base name.
func (s *ArtifactStore) Save(peerID string, b payload.BinaryResult) (string, error) {
	dir := sanitizeName(peerID)
	if dir == "" {
		return "", fmt.Errorf("%w: empty peer id", ErrInvalidArtifact)
	}
	name := sanitizeName(filepath.Base(strings.ReplaceAll(b.Filename, "\\", "/")))
	if b.Tag == payload.TagScreenshot {
		name = fmt.Sprintf("screenshot_%s_%s", s.now().UTC().Format("20060102T150405"), name)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", ErrInvalidArtifact)
	}

	full := filepath.Join(s.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(full, name)
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// sanitizeName keeps letters, digits, dot, dash and underscore. Leading dots
// are stripped so names never resolve to "." or "..".
func sanitizeName(v string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(v) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
