// Package telemetry turns poll results into InfluxDB measurements:
// one point per refresh cycle and one per heater. Recording is fire
// and forget; the poller never waits on or fails because of telemetry.
package telemetry

import (
	"time"

	"github.com/nerrad567/heatbridge/internal/bridge"
	"github.com/nerrad567/heatbridge/internal/cloud"
)

// Writer is the metric-writing surface, implemented by the InfluxDB
// client.
type Writer interface {
	WritePollMetric(latency time.Duration, deviceCount int)
	WriteHeaterMetric(deviceID string, ambientF, targetF float64, heating bool)
}

// Recorder records each successful batch refresh.
type Recorder struct {
	w Writer
}

// NewRecorder creates a recorder over the given writer.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// RecordPoll writes the cycle latency plus per-heater temperature and
// power points.
func (r *Recorder) RecordPoll(latency time.Duration, devices []cloud.DeviceRecord) {
	r.w.WritePollMetric(latency, len(devices))

	for _, d := range devices {
		r.w.WriteHeaterMetric(bridge.LocalID(d.ID),
			d.AmbientTemperature, d.TargetTemperature(), d.PowerOn())
	}
}
