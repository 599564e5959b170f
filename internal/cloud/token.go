package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
)

// Token lifecycle constants.
const (
	// maxSessionAge is the age beyond which a session is re-authenticated
	// regardless of any decoded expiry.
	maxSessionAge = 60 * time.Minute

	// refreshLeadTime is how long before expiry the proactive refresh fires.
	refreshLeadTime = 5 * time.Minute

	// refreshMinRemaining is the minimum remaining lifetime for a proactive
	// refresh to be worth scheduling. Below this the token is treated as
	// already near expiry and the next call re-authenticates reactively.
	refreshMinRemaining = 10 * time.Minute
)

// Logger defines the logging interface used by cloud components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TokenManager owns credential-based login and session lifecycle for the
// vendor cloud API.
//
// It holds at most one Session at a time; re-authentication replaces the
// session wholesale. Login serialisation is enforced by the internal
// mutex, so concurrent callers cannot race two logins.
type TokenManager struct {
	cfg              config.CloudConfig
	httpClient       *http.Client
	deviceInstanceID string

	mu      sync.Mutex
	session *Session

	// onSession, when set, is invoked with a copy of each new session so
	// the caller can persist it. Invoked outside network calls but under
	// the session lock.
	onSession func(Session)

	logger Logger
}

// NewTokenManager creates a token manager for the given cloud account.
//
// Parameters:
//   - cfg: Cloud configuration (credentials, base URL, timeout)
//   - deviceInstanceID: Stable identifier for this bridge instance
func NewTokenManager(cfg config.CloudConfig, deviceInstanceID string) *TokenManager {
	return &TokenManager{
		cfg:              cfg,
		deviceInstanceID: deviceInstanceID,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the token manager.
func (tm *TokenManager) SetLogger(logger Logger) {
	tm.logger = logger
}

// SetOnSession registers a callback invoked with each new session,
// typically to persist it across restarts.
func (tm *TokenManager) SetOnSession(fn func(Session)) {
	tm.mu.Lock()
	tm.onSession = fn
	tm.mu.Unlock()
}

// RestoreSession adopts a previously persisted session. It is intended
// for startup; a session past maxSessionAge is ignored.
func (tm *TokenManager) RestoreSession(s Session) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if time.Since(s.IssuedAt) > maxSessionAge {
		tm.logger.Debug("persisted session too old, ignoring", "issued_at", s.IssuedAt)
		return
	}
	tm.session = &s
	tm.logger.Info("restored persisted session", "issued_at", s.IssuedAt)
}

// Login authenticates with the cloud API and installs a new session.
//
// Login succeeds only when the response is HTTP 200 AND carries a
// success status AND a non-empty token. Any other combination returns
// ErrAuthFailed. On success the JWT payload is decoded (unverified) to
// extract the expiry; a token without a readable exp claim is accepted
// with no known expiry.
//
// Authentication failure is recoverable, never fatal: errors are logged
// with remediation hints and surfaced as a plain error result.
func (tm *TokenManager) Login(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.loginLocked(ctx)
}

// loginLocked performs the login. Callers must hold tm.mu.
func (tm *TokenManager) loginLocked(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		Username:   tm.cfg.Username,
		Password:   tm.cfg.Password,
		LoginType:  loginTypeCredentials,
		DeviceID:   tm.deviceInstanceID,
		DeviceType: tm.cfg.DeviceType,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding login request: %w", ErrAuthFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building login request: %w", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		tm.logLoginFailure("login request failed", err)
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tm.logLoginFailure("login rejected", fmt.Errorf("status %d", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		tm.logLoginFailure("login response malformed", err)
		return fmt.Errorf("%w: decoding response: %w", ErrAuthFailed, err)
	}

	if lr.Status != statusSuccess || lr.Data.Token == "" {
		tm.logLoginFailure("login response incomplete",
			fmt.Errorf("status %q, token present: %t", lr.Status, lr.Data.Token != ""))
		return fmt.Errorf("%w: status %q", ErrAuthFailed, lr.Status)
	}

	session := Session{
		Token:            lr.Data.Token,
		IssuedAt:         time.Now(),
		ExpiresAt:        decodeTokenExpiry(lr.Data.Token),
		DeviceInstanceID: tm.deviceInstanceID,
	}
	tm.session = &session

	if session.ExpiresAt != nil {
		tm.logger.Info("authenticated with cloud API", "expires_at", session.ExpiresAt)
	} else {
		tm.logger.Info("authenticated with cloud API", "expires_at", "unknown")
	}

	if tm.onSession != nil {
		tm.onSession(session)
	}
	return nil
}

// logLoginFailure logs a login error with remediation hints.
func (tm *TokenManager) logLoginFailure(msg string, err error) {
	tm.logger.Error(msg,
		"error", err,
		"hint", "verify cloud credentials, regenerate the device instance id, and check network/VPN reachability",
	)
}

// EnsureValid guarantees a usable token is held, re-authenticating when
// forced, when no session exists, or when the session is older than
// maxSessionAge. It must be called before every outbound API call.
//
// Returns whether a valid token is now held.
func (tm *TokenManager) EnsureValid(ctx context.Context, force bool) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !force && tm.session != nil && time.Since(tm.session.IssuedAt) <= maxSessionAge {
		return true
	}

	if err := tm.loginLocked(ctx); err != nil {
		return false
	}
	return true
}

// Token returns the current bearer token, if any.
func (tm *TokenManager) Token() (string, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.session == nil {
		return "", false
	}
	return tm.session.Token, true
}

// Session returns a copy of the current session, if any.
func (tm *TokenManager) Session() (Session, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.session == nil {
		return Session{}, false
	}
	return *tm.session, true
}

// RefreshIn returns when a proactive token refresh should fire for the
// current session. See Session.RefreshIn.
func (tm *TokenManager) RefreshIn() (time.Duration, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.session == nil {
		return 0, false
	}
	return tm.session.RefreshIn()
}

// RefreshIn returns when a proactive token refresh should fire.
//
// If the expiry is known and more than refreshMinRemaining away, the
// refresh is due refreshLeadTime before expiry. Otherwise no proactive
// refresh is warranted: either the expiry is unknown, or the token is
// already near expiry and the next call re-authenticates reactively.
func (s Session) RefreshIn() (time.Duration, bool) {
	if s.ExpiresAt == nil {
		return 0, false
	}

	remaining := time.Until(*s.ExpiresAt)
	if remaining <= refreshMinRemaining {
		return 0, false
	}
	return remaining - refreshLeadTime, true
}

// decodeTokenExpiry extracts the exp claim from a JWT without verifying
// the signature (the bridge is a client; the token is the server's to
// validate). Malformed tokens or missing claims yield nil, not an error.
func decodeTokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	t := exp.Time
	return &t
}
