package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePollMetric records one batch-refresh cycle: its round-trip
// latency and the number of devices returned.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WritePollMetric(latency time.Duration, deviceCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll",
		map[string]string{
			"source": "cloud",
		},
		map[string]interface{}{
			"latency_ms":   latency.Milliseconds(),
			"device_count": deviceCount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHeaterMetric records one heater's temperatures and power state
// for a poll cycle.
//
// Parameters:
//   - deviceID: Local heater identifier (e.g., "heater-a1b2")
//   - ambientF: Measured ambient temperature in Fahrenheit
//   - targetF: Configured setpoint in Fahrenheit
//   - heating: Whether the heater is actively heating
func (c *Client) WriteHeaterMetric(deviceID string, ambientF, targetF float64, heating bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"heater",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"ambient_f": ambientF,
			"target_f":  targetF,
			"heating":   heating,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
