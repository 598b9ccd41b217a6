package ghost

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/protocol/payload"
)

var ErrInvalidPeerID = errors.New("ghost: invalid peer id")

// Identity is the endpoint self-description carried by the handshake.
type Identity struct {
	PeerID   string
	Address  string
	User     string
	Platform string
}

// DetectIdentity resolves the local address, user and platform. An empty
// peerID mints a fresh one.
func DetectIdentity(peerID string) (Identity, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		peerID = frame.NewPeerID()
	}
	if err := ValidatePeerID(peerID); err != nil {
		return Identity{}, err
	}
	return Identity{
		PeerID:   peerID,
		Address:  sanitizeField(localAddress()),
		User:     sanitizeField(currentUser()),
		Platform: sanitizeField(runtime.GOOS + "/" + runtime.GOARCH),
	}, nil
}

// ValidatePeerID rejects ids that cannot be used as a single topic level or
// a handshake field.
func ValidatePeerID(id string) error {
	if id == "" || strings.ContainsAny(id, " \t\r\n/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidPeerID, id)
	}
	return nil
}

func (id Identity) Handshake() payload.Handshake {
	return payload.Handshake{
		PeerID:   id.PeerID,
		Address:  id.Address,
		User:     id.User,
		Platform: id.Platform,
	}
}

func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// sanitizeField strips characters reserved by the handshake encoding.
func sanitizeField(v string) string {
	v = strings.NewReplacer("#", "_", "\r", " ", "\n", " ").Replace(v)
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
