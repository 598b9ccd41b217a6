package topic

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultNamespace is the topic root shared by controller and endpoints.
const DefaultNamespace = "demo"

const (
	ackSuffix = "ack"
	wildcard  = "+"
)

var ErrInvalidTopic = errors.New("topic: invalid topic")

// Direction names which side published a data frame.
type Direction string

const (
	// ClientToServer carries endpoint -> controller frames.
	ClientToServer Direction = "c2s"
	// ServerToClient carries controller -> endpoint frames.
	ServerToClient Direction = "s2c"
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == ClientToServer {
		return ServerToClient
	}
	return ClientToServer
}

func (d Direction) Valid() bool {
	return d == ClientToServer || d == ServerToClient
}

// Route is a parsed topic.
type Route struct {
	Namespace string
	Direction Direction
	PeerID    string
	Ack       bool
}

// Data returns "{ns}/{dir}/{peer}".
func Data(ns string, dir Direction, peerID string) string {
	return ns + "/" + string(dir) + "/" + peerID
}

// Ack returns the acknowledgment topic for a data topic.
func Ack(dataTopic string) string {
	return dataTopic + "/" + ackSuffix
}

// Wildcards returns data and ack filters covering every peer in dir.
func Wildcards(ns string, dir Direction) []string {
	data := Data(ns, dir, wildcard)
	return []string{data, Ack(data)}
}

// Peer returns data and ack filters for one peer in dir.
func Peer(ns string, dir Direction, peerID string) []string {
	data := Data(ns, dir, peerID)
	return []string{data, Ack(data)}
}

// Parse splits a concrete topic published under ns.
func Parse(ns, raw string) (Route, error) {
	rest, ok := strings.CutPrefix(raw, ns+"/")
	if !ok {
		return Route{}, fmt.Errorf("%w: %q outside namespace %q", ErrInvalidTopic, raw, ns)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	r := Route{Namespace: ns, Direction: Direction(parts[0]), PeerID: parts[1]}
	if !r.Direction.Valid() || r.PeerID == "" || r.PeerID == wildcard {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	if len(parts) == 3 {
		if parts[2] != ackSuffix {
			return Route{}, fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
		}
		r.Ack = true
	}
	return r, nil
}

// Match reports whether a concrete topic matches an MQTT filter using
// single-level "+" and trailing "#" wildcards.
func Match(filter, raw string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(raw, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != wildcard && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
