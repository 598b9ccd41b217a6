// Package ghost owns the endpoint side of the relay.
//
// Ownership boundary:
// - endpoint identity and handshake
// - heartbeat pings and controller liveness
// - single-flight command execution in arrival order
//
// Lifecycle order:
// - connect -> ping -> echo -> handshake -> commands
//
// Ghost does not own connections or delivery; those belong to transport and
// protocol/session.
package ghost
