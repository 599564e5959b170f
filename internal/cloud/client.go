package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
)

// HealthRecorder receives the outcome of every logical API call.
// Implemented by the bridge's health monitor.
type HealthRecorder interface {
	RecordSuccess(latency time.Duration)
	RecordFailure()
}

// noopRecorder discards health outcomes.
type noopRecorder struct{}

func (noopRecorder) RecordSuccess(time.Duration) {}
func (noopRecorder) RecordFailure()              {}

// Client wraps authenticated HTTP calls to the vendor cloud API.
//
// Every call ensures token validity first, carries bearer authorization,
// and on 401/403 performs exactly one forced re-authentication followed
// by a single retry. Each logical call records exactly one outcome
// (success with latency, or failure) into the health recorder,
// regardless of the retry path taken.
type Client struct {
	cfg        config.CloudConfig
	tokens     *TokenManager
	httpClient *http.Client
	health     HealthRecorder
	logger     Logger
}

// NewClient creates an API client backed by the given token manager.
func NewClient(cfg config.CloudConfig, tokens *TokenManager) *Client {
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		health: noopRecorder{},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetHealthRecorder sets the recorder for call outcomes.
func (c *Client) SetHealthRecorder(h HealthRecorder) {
	c.health = h
}

// Do issues an authenticated request and returns the response body.
//
// Supported methods are GET, PATCH, and POST. A nil body sends no
// payload; otherwise body is JSON-encoded.
//
// Returns:
//   - []byte: Raw response body of a 2xx response
//   - error: ErrNoToken, ErrAuthExpired, or ErrAPIUnavailable
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if !c.tokens.EnsureValid(ctx, false) {
		// No token means the upstream is effectively unreachable for us;
		// it counts as the call's one failure outcome.
		c.health.RecordFailure()
		return nil, ErrNoToken
	}

	data, status, err := c.attempt(ctx, method, path, body)
	if err != nil {
		c.health.RecordFailure()
		return nil, err
	}

	// One forced re-auth and one retry on auth rejection; a second
	// rejection is surfaced as-is.
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.logger.Warn("authorization rejected mid-call, re-authenticating once",
			"method", method, "path", path, "status", status)

		if !c.tokens.EnsureValid(ctx, true) {
			c.health.RecordFailure()
			return nil, ErrNoToken
		}

		data, status, err = c.attempt(ctx, method, path, body)
		if err != nil {
			c.health.RecordFailure()
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			c.health.RecordFailure()
			return nil, fmt.Errorf("%w: status %d", ErrAuthExpired, status)
		}
	}

	if status < 200 || status > 299 {
		c.health.RecordFailure()
		return nil, fmt.Errorf("%w: status %d", ErrAPIUnavailable, status)
	}

	return data, nil
}

// attempt issues one HTTP request and records its latency on success.
// Transport errors (including timeouts) are returned as ErrAPIUnavailable.
func (c *Client) attempt(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: encoding request body: %w", ErrAPIUnavailable, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: building request: %w", ErrAPIUnavailable, err)
	}

	token, ok := c.tokens.Token()
	if !ok {
		return nil, 0, ErrNoToken
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading response: %w", ErrAPIUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.health.RecordSuccess(time.Since(start))
	}

	return data, resp.StatusCode, nil
}

// ListDevices fetches the account's full device list in one batched call.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	data, err := c.Do(ctx, http.MethodGet, deviceListPath, nil)
	if err != nil {
		return nil, err
	}

	var lr deviceListResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("%w: decoding device list: %w", ErrBadResponse, err)
	}
	if lr.Status != statusSuccess {
		return nil, fmt.Errorf("%w: status %q", ErrBadResponse, lr.Status)
	}
	return lr.Data, nil
}

// GetDevice fetches a single device's current state.
func (c *Client) GetDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	data, err := c.Do(ctx, http.MethodGet, devicePath+id, nil)
	if err != nil {
		return nil, err
	}

	var dr deviceResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return nil, fmt.Errorf("%w: decoding device: %w", ErrBadResponse, err)
	}
	if dr.Status != statusSuccess {
		return nil, fmt.Errorf("%w: status %q", ErrBadResponse, dr.Status)
	}
	return &dr.Data, nil
}

// UpdateTemperature sets a heater's target setpoint (whole degrees F).
func (c *Client) UpdateTemperature(ctx context.Context, id string, temperature int) error {
	body := updateRequest{Temperature: &temperature}
	_, err := c.Do(ctx, http.MethodPatch, updatePath+id, body)
	return err
}

// UpdatePower switches a heater on or off.
func (c *Client) UpdatePower(ctx context.Context, id string, on bool) error {
	state := stateOff
	if on {
		state = stateOn
	}
	body := updateRequest{State: &state}
	_, err := c.Do(ctx, http.MethodPatch, updatePath+id, body)
	return err
}
