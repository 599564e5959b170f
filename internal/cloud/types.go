package cloud

import "time"

// Vendor API paths. The wire format is a fixed external contract.
const (
	loginPath      = "/apis/v1/auth/login"
	deviceListPath = "/apis/v1/device/list"
	devicePath     = "/apis/v1/device/"
	updatePath     = "/apis/v1/device/update-temperature/"
)

// Wire-level constants from the vendor contract.
const (
	// statusSuccess is the value of the status field on successful responses.
	statusSuccess = "success"

	// loginTypeCredentials is the login_type for username/password auth.
	loginTypeCredentials = 1

	// stateOn and stateOff are the wire values for heater power state.
	stateOn  = 1
	stateOff = 0

	// deviceAvailable is the status code marking a device reachable.
	deviceAvailable = 1
)

// Session is the authenticated bearer-token context for the cloud API.
// It is created on successful login and replaced wholesale on each
// re-authentication.
type Session struct {
	// Token is the opaque bearer token returned by login.
	Token string

	// IssuedAt is when this session was established locally.
	IssuedAt time.Time

	// ExpiresAt is the token expiry decoded from the JWT payload,
	// or nil when the token carries no exp claim.
	ExpiresAt *time.Time

	// DeviceInstanceID identifies this polling client to the remote
	// API. It is generated once and stable across restarts.
	DeviceInstanceID string
}

// loginRequest is the body posted to the auth endpoint.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	LoginType  int    `json:"login_type"`
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
}

// loginResponse is the auth endpoint response envelope.
type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		Token string `json:"token"`
	} `json:"data"`
}

// DeviceRecord is a heater as reported by discovery and refresh calls.
// Records are ephemeral; a fresh set is fetched each poll cycle.
type DeviceRecord struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	AmbientTemperature float64 `json:"ambient_temperature"`
	CurrentTemperature float64 `json:"current_temperature"`
	State              int     `json:"state"`
	Status             int     `json:"status"`
}

// PowerOn reports whether the heater is switched on.
func (d DeviceRecord) PowerOn() bool {
	return d.State == stateOn
}

// Available reports whether the cloud considers the device reachable.
func (d DeviceRecord) Available() bool {
	return d.Status == deviceAvailable
}

// TargetTemperature returns the configured setpoint in Fahrenheit.
// The vendor reports it in the current_temperature field.
func (d DeviceRecord) TargetTemperature() float64 {
	return d.CurrentTemperature
}

// deviceListResponse is the device list response envelope.
type deviceListResponse struct {
	Status string         `json:"status"`
	Data   []DeviceRecord `json:"data"`
}

// deviceResponse is the single-device response envelope.
type deviceResponse struct {
	Status string       `json:"status"`
	Data   DeviceRecord `json:"data"`
}

// updateRequest is the PATCH body for setpoint and power changes.
// Only the fields being changed are included.
type updateRequest struct {
	Temperature *int `json:"temperature,omitempty"`
	State       *int `json:"state,omitempty"`
}
