package auth

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionRefreshMargin is how close to expiry a session may get before
// it is proactively refreshed.
const SessionRefreshMargin = 5 * time.Minute

// AccountStateActive is the only account state that yields a usable
// session. Comparison is case-insensitive.
const AccountStateActive = "active"

// Session is the short-lived credential obtained after login.
type Session struct {
	// SessionToken authorizes streaming and REST calls.
	SessionToken string `json:"session_token"`

	// RefreshToken obtains a new session without re-supplying credentials.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is when the session token becomes unusable.
	ExpiresAt time.Time `json:"expires_at"`

	// AccountState is the backend's account-state tag at login time.
	AccountState string `json:"account_state"`
}

// Valid reports whether the session can still be used right now.
func (s *Session) Valid() bool {
	return s != nil && s.SessionToken != "" && time.Now().Before(s.ExpiresAt)
}

// NeedsRefresh reports whether the session is absent, expired, or
// expires within the refresh margin.
func (s *Session) NeedsRefresh() bool {
	if s == nil || s.SessionToken == "" {
		return true
	}
	return time.Until(s.ExpiresAt) < SessionRefreshMargin
}

// AccountActive reports whether the account state permits a session.
func (s *Session) AccountActive() bool {
	return strings.EqualFold(s.AccountState, AccountStateActive)
}

// Serialize encodes the session for the credential store.
func (s *Session) Serialize() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseSession decodes a session previously produced by Serialize.
func ParseSession(serialized string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(serialized), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
