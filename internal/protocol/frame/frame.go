package frame

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// Separator splits message_id from body inside the decoded payload.
	Separator = "|"

	// LivenessMarker is the heartbeat body and the heartbeat ack body.
	LivenessMarker = "PING"

	// HeartbeatIDPrefix marks ids minted for untracked heartbeat frames.
	HeartbeatIDPrefix = "HB"

	messageIDLen   = 8
	heartbeatIDLen = 6
)

// Frame is one decoded data or ack payload.
type Frame struct {
	MessageID string
	Body      string
}

// HasID reports whether the payload carried a separator-delimited id.
func (f Frame) HasID() bool {
	return f.MessageID != ""
}

// IsHeartbeat reports whether f is a heartbeat ping or its echo.
func (f Frame) IsHeartbeat() bool {
	return strings.HasPrefix(f.MessageID, HeartbeatIDPrefix) && f.Body == LivenessMarker
}

// EncodeText applies the reversible text encoding used on the wire.
func EncodeText(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeText reverses EncodeText. It never fails: input that is not valid
// base64, or that decodes to invalid UTF-8, is returned unchanged.
func DecodeText(raw string) string {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(b) {
		return raw
	}
	return string(b)
}

// Encode builds the encoded data payload for id and body.
func Encode(id, body string) string {
	return EncodeText(id + Separator + body)
}

// Decode parses an encoded payload. A missing separator yields an empty id
// with the whole decoded string as the body.
func Decode(raw string) Frame {
	decoded := DecodeText(raw)
	id, body, ok := strings.Cut(decoded, Separator)
	if !ok {
		return Frame{Body: decoded}
	}
	return Frame{MessageID: id, Body: body}
}

// NewMessageID returns a short random id for a tracked envelope.
func NewMessageID() string {
	return shortHex(messageIDLen)
}

// NewHeartbeatID returns an id for an untracked heartbeat frame.
func NewHeartbeatID() string {
	return HeartbeatIDPrefix + shortHex(heartbeatIDLen)
}

// NewPeerID returns an opaque endpoint identity.
func NewPeerID() string {
	return shortHex(messageIDLen)
}

func shortHex(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}
