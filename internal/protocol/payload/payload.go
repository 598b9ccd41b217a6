package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/relayctl/internal/protocol/frame"
)

const (
	handshakeSeparator = "#"
	handshakeFields    = 4
	binarySeparator    = ":"

	TagScreenshot = "SCREENSHOT"
	TagFile       = "FILE"

	// TextEscapePrefix marks a text result that would otherwise read as a
	// handshake or liveness body. The space keeps it out of a peer id.
	TextEscapePrefix = "[TEXT] "
)

var ErrInvalidHandshake = errors.New("payload: invalid handshake")

// Kind tags the variant held by a Body.
type Kind int

const (
	KindTextResult Kind = iota
	KindHandshake
	KindLiveness
	KindBinaryResult
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindLiveness:
		return "liveness"
	case KindBinaryResult:
		return "binary_result"
	default:
		return "text_result"
	}
}

// Handshake is the endpoint self-description sent once per reachable transition.
type Handshake struct {
	PeerID   string
	Address  string
	User     string
	Platform string
}

// String renders the wire form "{peer}#{address}#{user}#{platform}".
func (h Handshake) String() string {
	return strings.Join([]string{h.PeerID, h.Address, h.User, h.Platform}, handshakeSeparator)
}

func (h Handshake) Validate() error {
	if strings.TrimSpace(h.PeerID) == "" {
		return fmt.Errorf("%w: missing peer id", ErrInvalidHandshake)
	}
	for _, field := range []string{h.PeerID, h.Address, h.User, h.Platform} {
		if strings.Contains(field, handshakeSeparator) || strings.ContainsAny(field, "\r\n") {
			return fmt.Errorf("%w: field %q contains a reserved character", ErrInvalidHandshake, field)
		}
	}
	return nil
}

// BinaryResult is a tagged file-bearing result such as a capture or transfer.
type BinaryResult struct {
	Tag      string
	Filename string
	Data     []byte
}

// Encode renders "{TAG}:{filename}:{base64}".
func (b BinaryResult) Encode() string {
	return b.Tag + binarySeparator + b.Filename + binarySeparator + base64.StdEncoding.EncodeToString(b.Data)
}

// Body is the decoded data-frame body. Exactly one variant field is set,
// selected by Kind.
type Body struct {
	Kind      Kind
	Handshake Handshake
	Binary    BinaryResult
	Text      string
}

// EscapeResult prepares a command result for the wire. Results shaped like
// a handshake or the liveness marker, and results already starting with
// TextEscapePrefix, are prefixed so Classify returns them as text unchanged.
// Binary result shapes pass through.
func EscapeResult(result string) string {
	if strings.HasPrefix(result, TextEscapePrefix) || result == frame.LivenessMarker {
		return TextEscapePrefix + result
	}
	if _, ok := parseHandshake(result); ok {
		return TextEscapePrefix + result
	}
	return result
}

// Classify decodes a data-frame body once into its variant.
func Classify(body string) Body {
	if rest, ok := strings.CutPrefix(body, TextEscapePrefix); ok {
		return Body{Kind: KindTextResult, Text: rest}
	}
	if body == frame.LivenessMarker {
		return Body{Kind: KindLiveness}
	}
	if h, ok := parseHandshake(body); ok {
		return Body{Kind: KindHandshake, Handshake: h}
	}
	if b, ok := parseBinary(body); ok {
		return Body{Kind: KindBinaryResult, Binary: b}
	}
	return Body{Kind: KindTextResult, Text: body}
}

func parseHandshake(body string) (Handshake, bool) {
	if strings.ContainsAny(body, "\r\n") {
		return Handshake{}, false
	}
	parts := strings.Split(body, handshakeSeparator)
	if len(parts) != handshakeFields {
		return Handshake{}, false
	}
	h := Handshake{
		PeerID:   strings.TrimSpace(parts[0]),
		Address:  strings.TrimSpace(parts[1]),
		User:     strings.TrimSpace(parts[2]),
		Platform: strings.TrimSpace(parts[3]),
	}
	if h.PeerID == "" || strings.ContainsAny(h.PeerID, " \t") {
		return Handshake{}, false
	}
	return h, true
}

func parseBinary(body string) (BinaryResult, bool) {
	tag, rest, ok := strings.Cut(body, binarySeparator)
	if !ok || (tag != TagScreenshot && tag != TagFile) {
		return BinaryResult{}, false
	}
	name, encoded, ok := strings.Cut(rest, binarySeparator)
	if !ok || strings.TrimSpace(name) == "" {
		return BinaryResult{}, false
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return BinaryResult{}, false
	}
	return BinaryResult{Tag: tag, Filename: name, Data: data}, true
}
