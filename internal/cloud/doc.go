// Package cloud implements the vendor heater-control API protocol.
//
// This package manages:
//   - Credential login and bearer-token session lifecycle
//   - Unverified JWT decoding for proactive expiry-based refresh
//   - Authenticated calls with single-retry-after-reauth on 401/403
//   - Typed wrappers for device list, single device, and update calls
//
// The wire format (JSON field names, status codes) is a fixed external
// contract and is confined to this package; the rest of the bridge works
// with DeviceRecord and Session values.
//
// Every logical call reports exactly one outcome to the configured
// HealthRecorder, which is how the circuit breaker observes the API.
//
// Usage:
//
//	tokens := cloud.NewTokenManager(cfg.Cloud, instanceID)
//	client := cloud.NewClient(cfg.Cloud, tokens)
//	client.SetHealthRecorder(monitor)
//
//	devices, err := client.ListDevices(ctx)
package cloud
