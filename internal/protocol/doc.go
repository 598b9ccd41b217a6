// Package protocol owns the relay wire contract.
//
// Ownership boundary:
// - frame: base64 envelope encoding and message ids
// - topic: data/ack topic layout and filter matching
// - payload: classification of data-frame bodies
// - session: reliable channel, outbox and retry
package protocol
