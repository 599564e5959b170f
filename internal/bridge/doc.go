// Package bridge implements the session, polling, and command
// orchestration for the cloud heater API.
//
// The components mirror the control flow of the system: the
// HealthMonitor guards remote calls with a rolling latency window and
// a circuit breaker; the DeviceRegistry reconciles discovery results
// into child entities and emits change-filtered attribute events; the
// PollingController schedules batch refreshes with an adaptive
// interval; and the CommandDispatcher validates and forwards setpoint
// and power commands with a delayed confirmation refresh. The Bridge
// type wires them up with the cloud client, the persistent state
// store, and a single scheduler that owns every timer.
//
// Nothing here is fatal to the process: every failure path logs and
// either retries on a later schedule or leaves state unchanged for the
// next cycle. The circuit breaker is the sole mechanism for backing
// off sustained failure.
package bridge
