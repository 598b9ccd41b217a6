// Package transport owns the single active relay connection.
//
// Ownership boundary:
// - prioritized broker election with primary preference
// - reconnect after loss and recovery back to the primary
// - connection generations so stale callbacks are dropped
//
// The wire client itself is supplied through Dialer; see transport/mqtt.
package transport
