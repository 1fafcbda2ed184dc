package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradewire-protocol/tradewire-go/pkg/keystore"
	tlog "github.com/tradewire-protocol/tradewire-go/pkg/log"
)

// Default HTTP channel settings.
const (
	// DefaultRequestTimeout bounds a single HTTP call.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultRateLimit is the number of requests allowed per window.
	DefaultRateLimit = 10

	// DefaultRateWindow is the rolling window for the rate limit.
	DefaultRateWindow = 1 * time.Minute

	// DefaultSessionTTL is assumed when the login response carries no
	// expiry.
	DefaultSessionTTL = 1 * time.Hour
)

// Signed request headers.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Config configures a credential manager.
type Config struct {
	// BaseURL is the REST endpoint root, e.g. "https://api.example.com/v1".
	BaseURL string

	// Store persists identity and session. Required.
	Store keystore.Store

	// HTTPClient is the client for the signed-request channel.
	// Defaults to a client with DefaultRequestTimeout.
	HTTPClient *http.Client

	// RateLimit is the number of requests per RateWindow (default 10).
	RateLimit int

	// RateWindow is the rolling rate-limit window (default 1 minute).
	RateWindow time.Duration

	// Logger receives protocol events. Defaults to NoopLogger.
	Logger tlog.Logger

	// ClientID tags log events. Defaults to a random UUID via the caller;
	// may be empty.
	ClientID string
}

// credentials are retained in memory after a successful login so
// EnsureValidSession can re-authenticate without user interaction. They
// are never persisted.
type credentials struct {
	phoneNumber string
	pin         string
}

// Manager owns the device identity and session.
type Manager struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	store   keystore.Store
	logger  tlog.Logger

	mu        sync.Mutex
	state     PairingState
	identity  *DeviceIdentity
	session   *Session
	processID string
	creds     *credentials
}

// NewManager creates a credential manager and restores any persisted
// identity and session from the store.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: Store is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("auth: BaseURL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = tlog.NoopLogger{}
	}

	m := &Manager{
		cfg:    cfg,
		http:   cfg.HTTPClient,
		store:  cfg.Store,
		logger: cfg.Logger,
		state:  StateUnpaired,
		limiter: rate.NewLimiter(
			rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)),
			cfg.RateLimit,
		),
	}

	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

// restore loads persisted identity and session, deriving the initial
// pairing state from what is present.
func (m *Manager) restore() error {
	if serialized, err := m.store.Get(keystore.KeyDeviceIdentity); err == nil {
		identity, err := ParseIdentity(serialized)
		if err != nil {
			return fmt.Errorf("restoring device identity: %w", err)
		}
		m.identity = identity
		m.state = StatePaired
	} else if !errors.Is(err, keystore.ErrKeyNotFound) {
		return err
	}

	if serialized, err := m.store.Get(keystore.KeySession); err == nil {
		session, err := ParseSession(serialized)
		if err != nil {
			return fmt.Errorf("restoring session: %w", err)
		}
		if session.Valid() {
			m.session = session
			m.state = StateLoggedIn
		}
	} else if !errors.Is(err, keystore.ErrKeyNotFound) {
		return err
	}

	return nil
}

// State returns the current pairing state.
func (m *Manager) State() PairingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the current device identity.
func (m *Manager) Identity() (*DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil, ErrNoIdentity
	}
	return m.identity, nil
}

// CurrentSession returns a copy of the held session, or nil.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// InitiatePairing generates a fresh device identity (held in memory only
// until pairing completes), sends phone number and PIN to the
// device-reset endpoint, and returns the process id for CompletePairing.
// The machine ends in AWAITING_CODE: the backend has dispatched a
// one-time code out of band.
func (m *Manager) InitiatePairing(ctx context.Context, phoneNumber, pin string) (string, error) {
	identity, err := GenerateIdentity()
	if err != nil {
		return "", err
	}

	var resp struct {
		ProcessID string `json:"processId"`
	}
	status, err := m.postJSON(ctx, "/account/reset/device", map[string]string{
		"phoneNumber": phoneNumber,
		"pin":         pin,
	}, nil, &resp)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: device reset returned status %d", ErrAuthenticationFailed, status)
	}
	if resp.ProcessID == "" {
		return "", fmt.Errorf("%w: device reset returned no process id", ErrAuthenticationFailed)
	}

	m.mu.Lock()
	old := m.state
	m.identity = identity
	m.processID = resp.ProcessID
	m.state = StateResetRequested
	m.mu.Unlock()
	m.logPairingState(old, StateResetRequested, "device reset accepted")

	m.mu.Lock()
	m.state = StateAwaitingCode
	m.mu.Unlock()
	m.logPairingState(StateResetRequested, StateAwaitingCode, "one-time code dispatched")

	return resp.ProcessID, nil
}

// CompletePairing resumes pairing with the out-of-band one-time code.
// An invalid code surfaces ErrTwoFactorRequired and leaves the machine
// in AWAITING_CODE so the caller can re-prompt; it is not fatal. On
// success the device identity is persisted and the machine is PAIRED.
func (m *Manager) CompletePairing(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.state != StateAwaitingCode && m.state != StateResetRequested {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: CompletePairing in %s", ErrPairingState, state)
	}
	identity := m.identity
	processID := m.processID
	m.mu.Unlock()

	publicKey, err := identity.PublicKeyBase64()
	if err != nil {
		return err
	}

	status, err := m.postJSON(ctx, "/account/reset/device/"+processID+"/key", map[string]string{
		"code":      code,
		"deviceKey": publicKey,
	}, nil, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: code rejected", ErrTwoFactorRequired)
	case status < 200 || status > 299:
		return fmt.Errorf("%w: key registration returned status %d", ErrAuthenticationFailed, status)
	}

	// Persist before transitioning so a storage failure leaves the
	// machine re-runnable instead of half-paired.
	serialized, err := identity.Serialize()
	if err != nil {
		return err
	}
	if err := m.store.Set(keystore.KeyDeviceIdentity, serialized); err != nil {
		return fmt.Errorf("persisting device identity: %w", err)
	}

	m.mu.Lock()
	old := m.state
	m.state = StatePaired
	m.processID = ""
	m.mu.Unlock()
	m.logPairingState(old, StatePaired, "device key registered")

	return nil
}

// loginResponse is the backend's login/refresh response shape.
type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	RefreshToken string `json:"refreshToken"`
	AccountState string `json:"accountState"`

	// ExpiresIn is the session lifetime in seconds. Optional; absent
	// means DefaultSessionTTL.
	ExpiresIn int64 `json:"expiresIn"`
}

// session converts the response into a Session.
func (r *loginResponse) session() *Session {
	ttl := DefaultSessionTTL
	if r.ExpiresIn > 0 {
		ttl = time.Duration(r.ExpiresIn) * time.Second
	}
	return &Session{
		SessionToken: r.SessionToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(ttl),
		AccountState: r.AccountState,
	}
}

// Login authenticates with phone number and PIN, signing the request
// with the device private key. A 2xx response with a non-active account
// state fails with ErrAccountNotActive and stores nothing.
func (m *Manager) Login(ctx context.Context, phoneNumber, pin string) (*Session, error) {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity == nil {
		return nil, ErrNotPaired
	}

	payload := map[string]string{
		"phoneNumber": phoneNumber,
		"pin":         pin,
	}

	var resp loginResponse
	status, err := m.postJSON(ctx, "/login", payload, identity, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: login returned status %d", ErrAuthenticationFailed, status)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: login returned status %d", ErrAuthenticationFailed, status)
	}

	session := resp.session()
	if !session.AccountActive() {
		m.logError("login", fmt.Sprintf("account state %q", session.AccountState), nil)
		return nil, fmt.Errorf("%w: account state %q", ErrAccountNotActive, session.AccountState)
	}

	if err := m.storeSession(session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.state
	m.session = session
	m.creds = &credentials{phoneNumber: phoneNumber, pin: pin}
	m.state = StateLoggedIn
	m.mu.Unlock()
	m.logPairingState(old, StateLoggedIn, "login succeeded")

	s := *session
	return &s, nil
}

// EnsureValidSession returns a session that is valid for at least the
// refresh margin, transparently re-authenticating if needed. This is
// the only place permitted to trigger a blocking re-login.
func (m *Manager) EnsureValidSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session != nil && !session.NeedsRefresh() {
		s := *session
		return &s, nil
	}

	return m.refresh(ctx)
}

// refresh obtains a new session: first via the refresh token, then by
// re-login with in-memory credentials. With neither available the
// session is simply expired and the caller must log in again.
func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	identity := m.identity
	session := m.session
	creds := m.creds
	m.mu.Unlock()

	if identity == nil {
		return nil, ErrNotPaired
	}

	if session != nil && session.RefreshToken != "" {
		refreshed, err := m.refreshWithToken(ctx, identity, session.RefreshToken)
		if err == nil {
			return refreshed, nil
		}
		if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return nil, err
		}
		m.logError("session refresh", "refresh token rejected, re-authenticating", err)
	}

	if creds == nil {
		return nil, ErrSessionExpired
	}
	return m.Login(ctx, creds.phoneNumber, creds.pin)
}

// refreshWithToken exchanges the refresh token for a fresh session.
func (m *Manager) refreshWithToken(ctx context.Context, identity *DeviceIdentity, refreshToken string) (*Session, error) {
	var resp loginResponse
	status, err := m.postJSON(ctx, "/session/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, identity, &resp)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: refresh returned status %d", ErrSessionExpired, status)
	}

	session := resp.session()
	if !session.AccountActive() {
		return nil, fmt.Errorf("%w: account state %q", ErrAccountNotActive, session.AccountState)
	}
	if err := m.storeSession(session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.session = session
	m.state = StateLoggedIn
	m.mu.Unlock()
	m.logSessionState("EXPIRING", "REFRESHED", "session refreshed")

	s := *session
	return &s, nil
}

// Logout discards the session from memory and store. The device
// identity stays paired.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Delete(keystore.KeySession); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.state
	m.session = nil
	m.creds = nil
	m.state = StateLoggedOut
	m.mu.Unlock()
	m.logPairingState(old, StateLoggedOut, "logout")

	return nil
}

// SignRequest sets the signed-request headers on req for the given
// payload bytes: X-Timestamp and the base64 ECDSA/SHA-512 signature of
// "<timestamp>.<payload>".
func (m *Manager) SignRequest(req *http.Request, payload []byte) error {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity == nil {
		return ErrNoIdentity
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := identity.Sign(signedMessage(timestamp, payload))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	return nil
}

// signedMessage builds the exact byte sequence covered by a request
// signature: "<timestamp>.<jsonPayload>".
func signedMessage(timestamp string, payload []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+1+len(payload))
	msg = append(msg, timestamp...)
	msg = append(msg, '.')
	msg = append(msg, payload...)
	return msg
}

// storeSession persists the session. Nothing is kept in memory unless
// persistence succeeded, so failures never leave half a login behind.
func (m *Manager) storeSession(session *Session) error {
	serialized, err := session.Serialize()
	if err != nil {
		return err
	}
	if err := m.store.Set(keystore.KeySession, serialized); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// postJSON sends a rate-limited JSON POST. When identity is non-nil the
// request is signed. The response body is decoded into out when out is
// non-nil and the status is 2xx. HTTP 429 is mapped to RateLimitedError
// before any status handling by the caller.
func (m *Manager) postJSON(ctx context.Context, path string, body any, identity *DeviceIdentity, out any) (int, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if identity != nil {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature, err := identity.Sign(signedMessage(timestamp, payload))
		if err != nil {
			return 0, err
		}
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, &RateLimitedError{RetryAfter: retryAfter(resp)}
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s response: %w", path, err)
		}
	} else {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}

// retryAfter parses the Retry-After header as a second count.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// logPairingState emits a pairing state-change event.
func (m *Manager) logPairingState(oldState, newState PairingState, reason string) {
	m.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ClientID,
		Direction:    tlog.DirectionOut,
		Layer:        tlog.LayerSession,
		Category:     tlog.CategoryState,
		StateChange: &tlog.StateChangeEvent{
			Entity:   tlog.StateEntityPairing,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}

// logSessionState emits a session state-change event.
func (m *Manager) logSessionState(oldState, newState, reason string) {
	m.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ClientID,
		Direction:    tlog.DirectionOut,
		Layer:        tlog.LayerSession,
		Category:     tlog.CategoryState,
		StateChange: &tlog.StateChangeEvent{
			Entity:   tlog.StateEntitySession,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// logError emits an error event. Error text never contains credential
// material; callers pass descriptions, not payloads.
func (m *Manager) logError(context, message string, err error) {
	if err != nil {
		message = message + ": " + err.Error()
	}
	m.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ClientID,
		Direction:    tlog.DirectionOut,
		Layer:        tlog.LayerSession,
		Category:     tlog.CategoryError,
		Error: &tlog.ErrorEventData{
			Layer:   tlog.LayerSession,
			Message: message,
			Context: context,
		},
	})
}
