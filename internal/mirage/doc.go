// Package mirage is the controller side of the relay.
//
// Ownership boundary:
// - peer registry keyed by peer id, fed by handshake, liveness and result frames
// - per-peer single-flight command dispatch
// - liveness tiers recomputed on a fixed interval
// - admin HTTP API and roster export
//
// Mirage never executes commands; endpoints (package ghost) do.
package mirage
