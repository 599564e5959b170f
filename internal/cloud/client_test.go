package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// recordingHealth counts outcomes reported by the client.
type recordingHealth struct {
	successes atomic.Int32
	failures  atomic.Int32
}

func (r *recordingHealth) RecordSuccess(time.Duration) { r.successes.Add(1) }
func (r *recordingHealth) RecordFailure()              { r.failures.Add(1) }

// apiServer simulates the vendor API: any number of 401 responses for
// the device list before succeeding, plus a counting login endpoint.
type apiServer struct {
	t           *testing.T
	rejectFirst int32 // number of device-list calls to reject with 401

	logins    atomic.Int32
	listCalls atomic.Int32
	patches   atomic.Int32
	lastPatch atomic.Value // updateRequest
}

func (a *apiServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == loginPath:
			a.logins.Add(1)
			fmt.Fprint(w, `{"status":"success","data":{"token":"tok-`+fmt.Sprint(a.logins.Load())+`"}}`)

		case r.URL.Path == deviceListPath:
			n := a.listCalls.Add(1)
			if n <= atomic.LoadInt32(&a.rejectFirst) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"status":"success","data":[{"id":"r1","name":"Living Room","ambient_temperature":68,"current_temperature":72,"state":1,"status":1}]}`)

		case r.Method == http.MethodPatch:
			a.patches.Add(1)
			var req updateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				a.t.Errorf("decoding patch body: %v", err)
			}
			a.lastPatch.Store(req)
			fmt.Fprint(w, `{"status":"success"}`)

		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *recordingHealth) {
	t.Helper()

	cfg := testCloudConfig(srv.URL)
	tokens := NewTokenManager(cfg, "instance-1")
	client := NewClient(cfg, tokens)

	health := &recordingHealth{}
	client.SetHealthRecorder(health)
	return client, health
}

func TestListDevices(t *testing.T) {
	api := &apiServer{t: t}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client, health := newTestClient(t, srv)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}

	d := devices[0]
	if d.ID != "r1" || d.Name != "Living Room" {
		t.Errorf("unexpected device: %+v", d)
	}
	if !d.PowerOn() {
		t.Error("PowerOn() = false, want true for state=1")
	}
	if !d.Available() {
		t.Error("Available() = false, want true for status=1")
	}
	if d.TargetTemperature() != 72 {
		t.Errorf("TargetTemperature() = %v, want 72", d.TargetTemperature())
	}

	if health.successes.Load() != 1 || health.failures.Load() != 0 {
		t.Errorf("health outcomes = %d success / %d failure, want 1/0",
			health.successes.Load(), health.failures.Load())
	}
}

func TestDo_AuthRetryOnce(t *testing.T) {
	api := &apiServer{t: t, rejectFirst: 1}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client, health := newTestClient(t, srv)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}

	// Initial login + one forced re-auth.
	if api.logins.Load() != 2 {
		t.Errorf("logins = %d, want 2 (initial + forced re-auth)", api.logins.Load())
	}
	if api.listCalls.Load() != 2 {
		t.Errorf("device list calls = %d, want 2 (rejected + retried)", api.listCalls.Load())
	}

	// The one logical call records exactly one outcome.
	if health.successes.Load() != 1 || health.failures.Load() != 0 {
		t.Errorf("health outcomes = %d success / %d failure, want 1/0",
			health.successes.Load(), health.failures.Load())
	}
}

func TestDo_SecondRejectionSurfaced(t *testing.T) {
	api := &apiServer{t: t, rejectFirst: 10}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client, health := newTestClient(t, srv)

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("ListDevices() error = %v, want ErrAuthExpired", err)
	}

	// No infinite retry: the rejected call is attempted exactly twice.
	if api.listCalls.Load() != 2 {
		t.Errorf("device list calls = %d, want 2", api.listCalls.Load())
	}
	if health.failures.Load() != 1 || health.successes.Load() != 0 {
		t.Errorf("health outcomes = %d success / %d failure, want 0/1",
			health.successes.Load(), health.failures.Load())
	}
}

func TestDo_ServerErrorRecordsFailure(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == loginPath {
			logins.Add(1)
			fmt.Fprint(w, `{"status":"success","data":{"token":"tok"}}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, health := newTestClient(t, srv)

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrAPIUnavailable) {
		t.Fatalf("ListDevices() error = %v, want ErrAPIUnavailable", err)
	}
	if health.failures.Load() != 1 {
		t.Errorf("failures = %d, want 1", health.failures.Load())
	}
}

func TestDo_NoTokenAborts(t *testing.T) {
	// Login always fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, health := newTestClient(t, srv)

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("ListDevices() error = %v, want ErrNoToken", err)
	}
	if health.failures.Load() != 1 {
		t.Errorf("failures = %d, want 1", health.failures.Load())
	}
}

func TestUpdateTemperature(t *testing.T) {
	api := &apiServer{t: t}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client, _ := newTestClient(t, srv)

	if err := client.UpdateTemperature(context.Background(), "r1", 72); err != nil {
		t.Fatalf("UpdateTemperature() error = %v", err)
	}

	req, _ := api.lastPatch.Load().(updateRequest)
	if req.Temperature == nil || *req.Temperature != 72 {
		t.Errorf("patch temperature = %v, want 72", req.Temperature)
	}
	if req.State != nil {
		t.Error("patch included state, want temperature only")
	}
}

func TestUpdatePower(t *testing.T) {
	api := &apiServer{t: t}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client, _ := newTestClient(t, srv)

	if err := client.UpdatePower(context.Background(), "r1", false); err != nil {
		t.Fatalf("UpdatePower() error = %v", err)
	}

	req, _ := api.lastPatch.Load().(updateRequest)
	if req.State == nil || *req.State != 0 {
		t.Errorf("patch state = %v, want 0", req.State)
	}
	if req.Temperature != nil {
		t.Error("patch included temperature, want state only")
	}
}
