package keystore

import "errors"

// Store errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrBadKey      = errors.New("empty key")
)

// Well-known store keys used by the credential layer.
const (
	// KeyDeviceIdentity holds the serialized device key pair.
	KeyDeviceIdentity = "device_identity"

	// KeySession holds the serialized session.
	KeySession = "session"
)

// Store defines the interface for credential persistence.
// Implementations must be safe for concurrent access. No transactional
// guarantees are required beyond last-write-wins.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes the value stored under key.
	// Deleting a missing key is a no-op.
	Delete(key string) error

	// Exists reports whether a value is stored under key.
	Exists(key string) (bool, error)
}
