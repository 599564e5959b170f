package bridge

import (
	"context"
	"sync"
	"time"
)

// Circuit breaker constants.
const (
	// latencyWindowSize caps the rolling latency sample window.
	latencyWindowSize = 10

	// failureThreshold is the consecutive-failure count that opens the circuit.
	failureThreshold = 5

	// circuitCooldown is how long to wait before a reset attempt.
	circuitCooldown = 30 * time.Minute

	// jobCircuitReset names the scheduled cooldown reset job.
	jobCircuitReset = "circuit-reset"
)

// Authenticator is the slice of the token manager the health monitor
// needs to force a re-authentication during a circuit reset attempt.
type Authenticator interface {
	// EnsureValid guarantees a usable token, re-authenticating when
	// forced. Returns whether a valid token is now held.
	EnsureValid(ctx context.Context, force bool) bool
}

// HealthSnapshot is a point-in-time view of API health, used by the
// status surface and persisted across restarts.
type HealthSnapshot struct {
	ConsecutiveFailures int
	CircuitOpen         bool
	AverageLatencyMS    int64
	LatencySamples      int
	LastSuccessAt       *time.Time
}

// HealthMonitor tracks the health of the remote API: a rolling latency
// average, a consecutive-failure counter, and the circuit breaker that
// suspends polling under sustained failure.
//
// Every API call records exactly one outcome here. Five consecutive
// failures open the circuit: polling is cancelled and a reset attempt
// is scheduled 30 minutes out, repeating indefinitely until a forced
// re-authentication succeeds. Any recorded success closes the circuit
// and resumes polling.
type HealthMonitor struct {
	sched Scheduler
	auth  Authenticator

	mu                  sync.Mutex
	consecutiveFailures int
	circuitOpen         bool
	latencies           []int64 // milliseconds, oldest first
	lastSuccessAt       *time.Time

	// onCircuitOpen cancels polling; onCircuitClose resumes it;
	// onResetSuccess triggers an immediate refresh cycle; onChange
	// persists the snapshot. All are invoked outside the mutex.
	onCircuitOpen  func()
	onCircuitClose func()
	onResetSuccess func()
	onChange       func(HealthSnapshot)

	logger Logger
}

// NewHealthMonitor creates a health monitor using the given scheduler
// for cooldown timers and authenticator for reset attempts.
func NewHealthMonitor(sched Scheduler, auth Authenticator) *HealthMonitor {
	return &HealthMonitor{
		sched:  sched,
		auth:   auth,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the health monitor.
func (h *HealthMonitor) SetLogger(logger Logger) {
	h.logger = logger
}

// OnCircuitOpen registers the callback invoked when the circuit opens.
func (h *HealthMonitor) OnCircuitOpen(fn func()) {
	h.mu.Lock()
	h.onCircuitOpen = fn
	h.mu.Unlock()
}

// OnCircuitClose registers the callback invoked when the circuit closes.
func (h *HealthMonitor) OnCircuitClose(fn func()) {
	h.mu.Lock()
	h.onCircuitClose = fn
	h.mu.Unlock()
}

// OnResetSuccess registers the callback invoked when a cooldown reset
// attempt re-authenticates successfully.
func (h *HealthMonitor) OnResetSuccess(fn func()) {
	h.mu.Lock()
	h.onResetSuccess = fn
	h.mu.Unlock()
}

// OnStateChange registers the callback invoked with a fresh snapshot
// after every state mutation, typically to persist it.
func (h *HealthMonitor) OnStateChange(fn func(HealthSnapshot)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Restore adopts persisted health state at startup. A restored open
// circuit re-schedules its cooldown reset attempt; latency samples are
// not restored and the window starts empty.
func (h *HealthMonitor) Restore(failures int, circuitOpen bool, lastSuccessAt *time.Time) {
	h.mu.Lock()
	h.consecutiveFailures = failures
	h.circuitOpen = circuitOpen
	h.lastSuccessAt = lastSuccessAt
	h.mu.Unlock()

	if circuitOpen {
		h.logger.Warn("restored with open circuit, scheduling reset attempt",
			"cooldown", circuitCooldown)
		h.scheduleReset()
	}
}

// RecordSuccess records one successful API call and its latency.
// The failure counter resets, and an open circuit closes: polling
// resumes at its normal schedule.
func (h *HealthMonitor) RecordSuccess(latency time.Duration) {
	h.mu.Lock()

	h.consecutiveFailures = 0
	h.latencies = append(h.latencies, latency.Milliseconds())
	if len(h.latencies) > latencyWindowSize {
		h.latencies = h.latencies[1:]
	}
	now := time.Now()
	h.lastSuccessAt = &now

	reopened := h.circuitOpen
	h.circuitOpen = false

	onClose := h.onCircuitClose
	onChange := h.onChange
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if reopened {
		h.sched.Cancel(jobCircuitReset)
		h.logger.Info("circuit closed after successful call", "latency", latency)
		if onClose != nil {
			onClose()
		}
	}
	if onChange != nil {
		onChange(snap)
	}
}

// RecordFailure records one failed API call. The fifth consecutive
// failure opens the circuit: polling is cancelled and a reset attempt
// is scheduled after the cooldown.
func (h *HealthMonitor) RecordFailure() {
	h.mu.Lock()

	h.consecutiveFailures++
	tripped := h.consecutiveFailures >= failureThreshold && !h.circuitOpen
	if tripped {
		h.circuitOpen = true
	}

	failures := h.consecutiveFailures
	onOpen := h.onCircuitOpen
	onChange := h.onChange
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if tripped {
		h.logger.Warn("circuit opened, suspending polling",
			"consecutive_failures", failures,
			"cooldown", circuitCooldown)
		if onOpen != nil {
			onOpen()
		}
		h.scheduleReset()
	} else {
		h.logger.Debug("api call failed", "consecutive_failures", failures)
	}

	if onChange != nil {
		onChange(snap)
	}
}

// AttemptReset tries to recover from an open circuit by forcing a
// re-authentication. Success triggers an immediate refresh cycle (whose
// recorded success then closes the circuit); failure re-schedules
// another attempt after the cooldown, indefinitely. The refresh can
// itself fail, so the circuit is re-checked afterwards and another
// attempt scheduled while it remains open.
func (h *HealthMonitor) AttemptReset(ctx context.Context) {
	if !h.auth.EnsureValid(ctx, true) {
		h.logger.Warn("circuit reset failed, rescheduling", "cooldown", circuitCooldown)
		h.scheduleReset()
		return
	}

	h.logger.Info("circuit reset authenticated, triggering refresh")

	h.mu.Lock()
	onReset := h.onResetSuccess
	h.mu.Unlock()

	if onReset != nil {
		onReset()
	}

	if h.CircuitOpen() {
		h.logger.Warn("circuit still open after reset refresh, rescheduling",
			"cooldown", circuitCooldown)
		h.scheduleReset()
	}
}

// CircuitOpen reports whether the circuit breaker is currently open.
func (h *HealthMonitor) CircuitOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.circuitOpen
}

// AverageLatencyMS returns the integer-truncated mean of the rolling
// latency window in milliseconds, or 0 when no samples exist.
func (h *HealthMonitor) AverageLatencyMS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.averageLatencyLocked()
}

// Snapshot returns a point-in-time copy of the health state.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *HealthMonitor) snapshotLocked() HealthSnapshot {
	return HealthSnapshot{
		ConsecutiveFailures: h.consecutiveFailures,
		CircuitOpen:         h.circuitOpen,
		AverageLatencyMS:    h.averageLatencyLocked(),
		LatencySamples:      len(h.latencies),
		LastSuccessAt:       h.lastSuccessAt,
	}
}

func (h *HealthMonitor) averageLatencyLocked() int64 {
	if len(h.latencies) == 0 {
		return 0
	}
	var total int64
	for _, ms := range h.latencies {
		total += ms
	}
	return total / int64(len(h.latencies))
}

// scheduleReset installs the cooldown reset job, replacing any pending one.
func (h *HealthMonitor) scheduleReset() {
	h.sched.ScheduleOnce(jobCircuitReset, circuitCooldown, func() {
		h.AttemptReset(context.Background())
	})
}
