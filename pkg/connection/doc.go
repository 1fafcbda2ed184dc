// Package connection provides connection lifecycle management for the
// tradewire streaming channel.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Connection state tracking
//   - Automatic reconnection on abnormal connection loss
//
// # Reconnection Strategy
//
// When a connection is lost abnormally, the client uses exponential
// backoff with a bounded number of attempts:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. After 5 failed attempts, reconnection stops and
//     ErrMaxReconnectAttempts is surfaced to all listeners.
//  4. Reset to 1s on successful reconnection.
//
// Giving up does not destroy subscription records; a later explicit
// Connect resumes them.
//
// Optional jitter can be configured to spread reconnect storms, at the
// cost of deterministic delays.
package connection
