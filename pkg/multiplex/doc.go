// Package multiplex routes inbound data frames to subscriptions over a
// single shared connection.
//
// The Multiplexer owns the subscription table, the per-subscription
// baseline cache and the pending-waiter table. Subscription ids are
// monotonic decimal strings allocated locally; routing is a direct id
// lookup. Each subscription's handler runs on its own dispatch queue so
// a slow handler cannot delay delivery to other subscriptions.
//
// Delta frames are reconstructed against the subscription's baseline
// with the delta package. After a reconnect, Replay clears every
// baseline and re-sends the subscribe frames, preserving the external
// ids; the server then restarts each stream with a full frame.
package multiplex
