package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
)

// makeJWT builds an unsigned-but-well-formed JWT with the given claims.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshaling claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// newLoginServer returns a test server accepting logins with the given
// token, counting calls to the auth endpoint.
func newLoginServer(t *testing.T, token string, loginCount *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath {
			http.NotFound(w, r)
			return
		}
		loginCount.Add(1)

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding login request: %v", err)
		}
		if req.LoginType != 1 {
			t.Errorf("login_type = %d, want 1", req.LoginType)
		}
		if req.DeviceID == "" {
			t.Error("login request missing device_id")
		}

		fmt.Fprintf(w, `{"status":"success","data":{"token":%q}}`, token)
	}))
}

func testCloudConfig(baseURL string) config.CloudConfig {
	return config.CloudConfig{
		BaseURL:        baseURL,
		Username:       "user@example.com",
		Password:       "hunter2",
		DeviceType:     "bridge",
		RequestTimeout: 5,
	}
}

func TestDecodeTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := makeJWT(t, map[string]any{"exp": exp})

	got := decodeTokenExpiry(token)
	if got == nil {
		t.Fatal("decodeTokenExpiry() = nil, want expiry")
	}
	if got.UnixMilli() != exp*1000 {
		t.Errorf("expiry = %d ms, want %d ms", got.UnixMilli(), exp*1000)
	}
}

func TestDecodeTokenExpiry_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"no exp claim", ""},
		{"not a jwt", "not-a-token"},
		{"two segments", "abc.def"},
		{"garbage payload", "abc.@@@@.def"},
	}

	// First case gets a real token without exp.
	tests[0].token = makeJWT(t, map[string]any{"sub": "user"})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeTokenExpiry(tt.token); got != nil {
				t.Errorf("decodeTokenExpiry(%q) = %v, want nil", tt.token, got)
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Unix()
	token := makeJWT(t, map[string]any{"exp": exp})

	var logins atomic.Int32
	server := newLoginServer(t, token, &logins)
	defer server.Close()

	tm := NewTokenManager(testCloudConfig(server.URL), "instance-1")

	var persisted atomic.Int32
	tm.SetOnSession(func(s Session) {
		persisted.Add(1)
		if s.Token != token {
			t.Errorf("persisted token = %q, want %q", s.Token, token)
		}
	})

	if err := tm.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	session, ok := tm.Session()
	if !ok {
		t.Fatal("no session after successful login")
	}
	if session.Token != token {
		t.Errorf("session token = %q, want %q", session.Token, token)
	}
	if session.ExpiresAt == nil {
		t.Fatal("session expiry not decoded")
	}
	if session.ExpiresAt.UnixMilli() != exp*1000 {
		t.Errorf("session expiry = %d ms, want %d ms", session.ExpiresAt.UnixMilli(), exp*1000)
	}
	if session.DeviceInstanceID != "instance-1" {
		t.Errorf("device instance id = %q, want %q", session.DeviceInstanceID, "instance-1")
	}
	if persisted.Load() != 1 {
		t.Errorf("session persisted %d times, want 1", persisted.Load())
	}
}

func TestLogin_NoExpiryTolerated(t *testing.T) {
	token := makeJWT(t, map[string]any{"sub": "user"})

	var logins atomic.Int32
	server := newLoginServer(t, token, &logins)
	defer server.Close()

	tm := NewTokenManager(testCloudConfig(server.URL), "instance-1")
	if err := tm.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	session, _ := tm.Session()
	if session.ExpiresAt != nil {
		t.Errorf("session expiry = %v, want nil for token without exp", session.ExpiresAt)
	}

	// No proactive refresh without a known expiry.
	if _, ok := tm.RefreshIn(); ok {
		t.Error("RefreshIn() scheduled a refresh for a session without known expiry")
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "non-success status field",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"status":"error","data":{}}`)
			},
		},
		{
			name: "missing token",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"status":"success","data":{"token":""}}`)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{{{`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			tm := NewTokenManager(testCloudConfig(server.URL), "instance-1")
			err := tm.Login(context.Background())
			if err == nil {
				t.Fatal("Login() = nil, want error")
			}
			if _, ok := tm.Session(); ok {
				t.Error("session installed despite failed login")
			}
		})
	}
}

func TestEnsureValid(t *testing.T) {
	token := makeJWT(t, map[string]any{"exp": time.Now().Add(2 * time.Hour).Unix()})

	var logins atomic.Int32
	server := newLoginServer(t, token, &logins)
	defer server.Close()

	tm := NewTokenManager(testCloudConfig(server.URL), "instance-1")
	ctx := context.Background()

	// No session: must authenticate.
	if !tm.EnsureValid(ctx, false) {
		t.Fatal("EnsureValid() = false, want true")
	}
	if logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", logins.Load())
	}

	// Fresh session: no re-auth.
	if !tm.EnsureValid(ctx, false) {
		t.Fatal("EnsureValid() = false with fresh session")
	}
	if logins.Load() != 1 {
		t.Errorf("logins = %d after fresh-session check, want 1", logins.Load())
	}

	// Forced: re-auth.
	if !tm.EnsureValid(ctx, true) {
		t.Fatal("EnsureValid(force) = false, want true")
	}
	if logins.Load() != 2 {
		t.Errorf("logins = %d after forced check, want 2", logins.Load())
	}

	// Aged-out session: re-auth.
	tm.mu.Lock()
	tm.session.IssuedAt = time.Now().Add(-61 * time.Minute)
	tm.mu.Unlock()

	if !tm.EnsureValid(ctx, false) {
		t.Fatal("EnsureValid() = false with aged session")
	}
	if logins.Load() != 3 {
		t.Errorf("logins = %d after aged-session check, want 3", logins.Load())
	}
}

func TestRefreshIn(t *testing.T) {
	tm := NewTokenManager(testCloudConfig("http://unused"), "instance-1")

	setExpiry := func(remaining time.Duration) {
		exp := time.Now().Add(remaining)
		tm.mu.Lock()
		tm.session = &Session{
			Token:     "tok",
			IssuedAt:  time.Now(),
			ExpiresAt: &exp,
		}
		tm.mu.Unlock()
	}

	// Remaining 30m: refresh at remaining - 5m = ~25m.
	setExpiry(30 * time.Minute)
	delay, ok := tm.RefreshIn()
	if !ok {
		t.Fatal("RefreshIn() = false, want scheduled")
	}
	if delay < 24*time.Minute || delay > 25*time.Minute {
		t.Errorf("RefreshIn() = %v, want ~25m", delay)
	}

	// Remaining exactly at the threshold: no schedule.
	setExpiry(10 * time.Minute)
	if _, ok := tm.RefreshIn(); ok {
		t.Error("RefreshIn() scheduled with 10m remaining, want none")
	}

	// Remaining below threshold: no schedule.
	setExpiry(3 * time.Minute)
	if _, ok := tm.RefreshIn(); ok {
		t.Error("RefreshIn() scheduled with 3m remaining, want none")
	}

	// No session at all.
	tm.mu.Lock()
	tm.session = nil
	tm.mu.Unlock()
	if _, ok := tm.RefreshIn(); ok {
		t.Error("RefreshIn() scheduled without session")
	}
}

func TestRestoreSession(t *testing.T) {
	tm := NewTokenManager(testCloudConfig("http://unused"), "instance-1")

	tm.RestoreSession(Session{
		Token:            "tok",
		IssuedAt:         time.Now().Add(-10 * time.Minute),
		DeviceInstanceID: "instance-1",
	})
	if _, ok := tm.Session(); !ok {
		t.Error("fresh persisted session was not restored")
	}

	tm2 := NewTokenManager(testCloudConfig("http://unused"), "instance-1")
	tm2.RestoreSession(Session{
		Token:    "tok",
		IssuedAt: time.Now().Add(-2 * time.Hour),
	})
	if _, ok := tm2.Session(); ok {
		t.Error("stale persisted session should be ignored")
	}
}
