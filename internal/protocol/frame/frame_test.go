package frame

import (
	"strings"
	"testing"

	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

func TestDecodeTextRoundTrip(t *testing.T) {
	testlog.Start(t)
	inputs := []string{
		"",
		"whoami",
		"id1|whoami",
		"DOMAIN\\user",
		"a|b|c",
		"multi\nline\toutput",
		"unicode ✓ données",
		strings.Repeat("x", 4096),
	}
	for _, in := range inputs {
		if got := DecodeText(EncodeText(in)); got != in {
			t.Fatalf("round trip mismatch: in=%q got=%q", in, got)
		}
	}
}

func TestDecodeTextGarbageIsReturnedUnchanged(t *testing.T) {
	testlog.Start(t)
	garbage := []string{
		"not base64!!",
		"%%%",
		"abc",
		"PING",
		"/wA=",
	}
	for _, in := range garbage {
		if got := DecodeText(in); got != in {
			t.Fatalf("garbage altered: in=%q got=%q", in, got)
		}
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	testlog.Start(t)
	raw := Encode("id1", "whoami")
	f := Decode(raw)
	if f.MessageID != "id1" || f.Body != "whoami" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if !f.HasID() {
		t.Fatalf("expected id present")
	}
}

func TestDecodeSplitsOnFirstSeparatorOnly(t *testing.T) {
	testlog.Start(t)
	f := Decode(Encode("id7", "a|b|c"))
	if f.MessageID != "id7" || f.Body != "a|b|c" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecodeWithoutSeparator(t *testing.T) {
	testlog.Start(t)
	f := Decode(EncodeText("no separator here"))
	if f.HasID() {
		t.Fatalf("expected empty id, got %q", f.MessageID)
	}
	if f.Body != "no separator here" {
		t.Fatalf("unexpected body: %q", f.Body)
	}

	garbage := Decode("not base64!!")
	if garbage.HasID() || garbage.Body != "not base64!!" {
		t.Fatalf("unexpected garbage frame: %+v", garbage)
	}
}

func TestIDs(t *testing.T) {
	testlog.Start(t)
	seen := make(map[string]struct{})
	for i := 0; i < 256; i++ {
		id := NewMessageID()
		if len(id) != messageIDLen {
			t.Fatalf("unexpected id length: %q", id)
		}
		if strings.Contains(id, Separator) {
			t.Fatalf("id contains separator: %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id: %q", id)
		}
		seen[id] = struct{}{}
	}

	hb := NewHeartbeatID()
	if !strings.HasPrefix(hb, HeartbeatIDPrefix) || len(hb) != len(HeartbeatIDPrefix)+heartbeatIDLen {
		t.Fatalf("unexpected heartbeat id: %q", hb)
	}
	if !(Frame{MessageID: hb, Body: LivenessMarker}).IsHeartbeat() {
		t.Fatalf("expected heartbeat frame")
	}
	if (Frame{MessageID: hb, Body: "other"}).IsHeartbeat() {
		t.Fatalf("non-PING body must not be a heartbeat")
	}
	if (Frame{MessageID: "abc", Body: LivenessMarker}).IsHeartbeat() {
		t.Fatalf("id without prefix must not be a heartbeat")
	}
}
