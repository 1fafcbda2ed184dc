// Package auth owns device key material and the session: it runs the
// device pairing handshake, signs outgoing requests and keeps the
// session fresh.
//
// # Pairing
//
// Pairing registers a device's public key with the backend, gated by an
// out-of-band one-time code. It is modeled as an explicit state machine
// rather than control flow through errors:
//
//	UNPAIRED -> RESET_REQUESTED -> AWAITING_CODE -> PAIRED -> LOGGED_IN
//
// InitiatePairing sends phone number and PIN to the device-reset
// endpoint and yields a process id; CompletePairing resumes with the
// one-time code. An invalid code surfaces ErrTwoFactorRequired and
// leaves the machine in AWAITING_CODE so the caller can re-prompt.
//
// # Request signing
//
// Signed requests carry an X-Timestamp header and an X-Signature header
// holding the base64 ECDSA (SHA-512) signature of
// "<timestamp>.<jsonPayload>" computed with the device private key. The
// private key never leaves this package: it is not logged, not
// transmitted, and only reaches the credential store in serialized form
// through the store's own encryption.
//
// # Session
//
// Sessions expire; EnsureValidSession transparently refreshes a session
// that is absent or expires within SessionRefreshMargin, and is the only
// place allowed to trigger a blocking re-authentication.
//
// All outbound HTTP calls pass a rolling-window rate limiter; a call
// that would exceed the window waits for a slot instead of failing.
package auth
