// Package influxdb provides the InfluxDB v2 client used for telemetry.
//
// Telemetry is strictly optional: when disabled in configuration the
// bridge runs without it, and write failures never affect polling or
// command handling. Writes are batched and non-blocking, with async
// errors surfaced through an error callback.
package influxdb
