package cloud

import "errors"

// Domain-specific errors for cloud API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthFailed is returned when login is rejected (bad credentials,
	// malformed response, or missing token). Recoverable; the next call
	// retries authentication.
	ErrAuthFailed = errors.New("cloud: authentication failed")

	// ErrNoToken is returned when a call cannot proceed because no valid
	// token could be obtained.
	ErrNoToken = errors.New("cloud: no valid token available")

	// ErrAuthExpired is returned when a call still receives 401/403 after
	// the single forced re-authentication and retry.
	ErrAuthExpired = errors.New("cloud: authorization rejected after re-authentication")

	// ErrAPIUnavailable is returned for transport faults, timeouts, and
	// non-2xx responses. Counted by the health monitor and may trip the
	// circuit breaker.
	ErrAPIUnavailable = errors.New("cloud: API unavailable")

	// ErrBadResponse is returned when a 2xx response body cannot be
	// decoded or reports a non-success status field.
	ErrBadResponse = errors.New("cloud: unexpected response")
)
