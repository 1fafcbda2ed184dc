// Package client is the top-level facade: it wires the credential
// manager, the websocket transport and the subscription multiplexer
// into one streaming client.
//
// The client owns a single logical connection. Abnormal closes are
// retried with exponential backoff and active subscriptions are
// replayed after a successful reconnect. Close suspends the client but
// keeps the subscription table for a later Connect; Shutdown is final.
package client
