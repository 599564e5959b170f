package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/heatbridge/internal/bridge"
	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
	"github.com/nerrad567/heatbridge/internal/infrastructure/logging"
)

// fakeController implements Controller for handler tests.
type fakeController struct {
	status     bridge.Status
	devices    []bridge.DeviceSnapshot
	refreshErr error
	pollErr    error
	tempErr    error
	powerErr   error

	refreshCalls int
	pollInterval int
	tempDevice   string
	tempValue    int
	powerDevice  string
	powerOn      bool
}

func (f *fakeController) Status() bridge.Status                { return f.status }
func (f *fakeController) Devices() []bridge.DeviceSnapshot     { return f.devices }
func (f *fakeController) TriggerRefresh(context.Context) error { f.refreshCalls++; return f.refreshErr }

func (f *fakeController) SetPollInterval(minutes int) error {
	if f.pollErr != nil {
		return f.pollErr
	}
	f.pollInterval = minutes
	return nil
}

func (f *fakeController) SetTemperature(_ context.Context, localID string, value int) error {
	if f.tempErr != nil {
		return f.tempErr
	}
	f.tempDevice = localID
	f.tempValue = value
	return nil
}

func (f *fakeController) SetPower(_ context.Context, localID string, on bool) error {
	if f.powerErr != nil {
		return f.powerErr
	}
	f.powerDevice = localID
	f.powerOn = on
	return nil
}

func newTestServer(t *testing.T, ctrl *fakeController) *Server {
	t.Helper()
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	srv, err := New(Deps{
		Logger:  logger,
		Bridge:  ctrl,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresDeps(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	if _, err := New(Deps{Bridge: &fakeController{}}); err == nil {
		t.Error("expected error when logger missing")
	}
	if _, err := New(Deps{Logger: logger}); err == nil {
		t.Error("expected error when bridge missing")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestStatusEndpoint(t *testing.T) {
	ctrl := &fakeController{
		status: bridge.Status{
			Authenticated:       true,
			DeviceCount:         2,
			PollIntervalMinutes: 10,
			AverageLatencyMS:    42,
			Version:             "test",
		},
	}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got bridge.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Authenticated || got.DeviceCount != 2 || got.AverageLatencyMS != 42 {
		t.Errorf("unexpected status payload: %+v", got)
	}
}

func TestListDevicesEndpoint(t *testing.T) {
	ctrl := &fakeController{
		devices: []bridge.DeviceSnapshot{
			{LocalID: "heater-a", RemoteID: "A", Name: "Lounge"},
			{LocalID: "heater-b", RemoteID: "B", Name: "Study"},
		},
	}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodGet, "/api/v1/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Devices []bridge.DeviceSnapshot `json:"devices"`
		Count   int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Devices) != 2 {
		t.Errorf("count = %d, devices = %d, want 2 each", body.Count, len(body.Devices))
	}
	if body.Devices[0].LocalID != "heater-a" {
		t.Errorf("first device = %s, want heater-a", body.Devices[0].LocalID)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPost, "/api/v1/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ctrl.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", ctrl.refreshCalls)
	}
}

func TestRefreshEndpointUpstreamFailure(t *testing.T) {
	ctrl := &fakeController{refreshErr: errors.New("cloud unreachable")}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPost, "/api/v1/refresh", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code != ErrCodeUpstream {
		t.Errorf("code = %s, want %s", apiErr.Code, ErrCodeUpstream)
	}
}

func TestSetPollingEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPut, "/api/v1/polling", map[string]int{"interval_minutes": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ctrl.pollInterval != 5 {
		t.Errorf("interval = %d, want 5", ctrl.pollInterval)
	}
}

func TestSetPollingRejectsInvalid(t *testing.T) {
	ctrl := &fakeController{pollErr: bridge.ErrInvalidInterval}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPut, "/api/v1/polling", map[string]int{"interval_minutes": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(srv, http.MethodPut, "/api/v1/polling", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestSetTemperatureEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPost, "/api/v1/devices/heater-a/temperature", map[string]int{"setpoint": 72})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if ctrl.tempDevice != "heater-a" || ctrl.tempValue != 72 {
		t.Errorf("got %s/%d, want heater-a/72", ctrl.tempDevice, ctrl.tempValue)
	}
}

func TestSetTemperatureErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"out of range", bridge.ErrInvalidSetpoint, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unknown device", bridge.ErrUnknownDevice, http.StatusNotFound, ErrCodeNotFound},
		{"upstream failure", errors.New("cloud unreachable"), http.StatusBadGateway, ErrCodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeController{tempErr: tt.err})

			rec := doRequest(srv, http.MethodPost, "/api/v1/devices/heater-a/temperature", map[string]int{"setpoint": 72})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var apiErr Error
			if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestSetPowerEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, ctrl)

	rec := doRequest(srv, http.MethodPost, "/api/v1/devices/heater-a/power", map[string]string{"power": "on"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if ctrl.powerDevice != "heater-a" || !ctrl.powerOn {
		t.Errorf("got %s/%v, want heater-a/true", ctrl.powerDevice, ctrl.powerOn)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/devices/heater-a/power", map[string]string{"power": "off"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if ctrl.powerOn {
		t.Error("expected power off")
	}
}

func TestSetPowerRejectsBadValue(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/devices/heater-a/power", map[string]string{"power": "toggle"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
