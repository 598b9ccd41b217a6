// Package session owns the reliable channel between Mirage and its Ghosts.
//
// Ownership boundary:
// - envelope framing with explicit message ids
// - pending-envelope outbox and ack matching
// - retry sweep and post-migration resend
// - automatic ack of inbound data frames
//
// The channel does not own connections; it publishes through a Publisher and
// is fed raw frames by the transport session.
package session
