package auth

// PairingState tracks the device pairing and login state machine.
type PairingState uint8

const (
	// StateUnpaired indicates no device identity is registered.
	StateUnpaired PairingState = iota

	// StateResetRequested indicates the device-reset call succeeded and a
	// process id was issued.
	StateResetRequested

	// StateAwaitingCode indicates the out-of-band one-time code has been
	// requested and the machine is waiting for the user to supply it.
	StateAwaitingCode

	// StatePaired indicates the device public key is registered with the
	// backend.
	StatePaired

	// StateLoggedIn indicates a session is held.
	StateLoggedIn

	// StateLoggedOut indicates the session was explicitly discarded.
	StateLoggedOut
)

// String returns a human-readable state name.
func (s PairingState) String() string {
	switch s {
	case StateUnpaired:
		return "UNPAIRED"
	case StateResetRequested:
		return "RESET_REQUESTED"
	case StateAwaitingCode:
		return "AWAITING_CODE"
	case StatePaired:
		return "PAIRED"
	case StateLoggedIn:
		return "LOGGED_IN"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}
