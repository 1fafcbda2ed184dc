// Package keystore provides opaque key-value persistence for credential
// material: the serialized device identity and the current session.
//
// The Store interface is deliberately small (get/set/delete/exists with
// last-write-wins semantics) so applications can substitute their own
// backing storage, for example an OS keychain. Two implementations ship
// with the client:
//
//   - MemoryStore, for tests and throwaway sessions.
//   - FileStore, a single JSON file whose values are encrypted with
//     AES-256-GCM under a scrypt-derived key, so the device private key
//     is never written to disk in the clear.
package keystore
