package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/heatbridge/internal/cloud"
)

// Polling constants.
const (
	// jobPoll names the recurring batch-refresh job.
	jobPoll = "poll"

	// jobInitialRefresh names the one-shot refresh fired shortly after
	// a polling (re)initialisation.
	jobInitialRefresh = "poll-initial"

	// initialRefreshDelay is how soon after (re)initialisation the
	// first refresh fires.
	initialRefreshDelay = 2 * time.Second
)

// CloudAPI is the slice of the cloud client the poller and command
// dispatcher use.
type CloudAPI interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceRecord, error)
	GetDevice(ctx context.Context, id string) (*cloud.DeviceRecord, error)
	UpdateTemperature(ctx context.Context, id string, temperature int) error
	UpdatePower(ctx context.Context, id string, on bool) error
}

// Scheduler runs the bridge's named one-shot and recurring jobs.
// Installing a job under an existing name replaces it.
type Scheduler interface {
	ScheduleOnce(name string, delay time.Duration, fn func())
	ScheduleEvery(name string, interval time.Duration, aligned bool, fn func())
	Cancel(name string)
	IsScheduled(name string) bool
}

// PollRecorder receives the result of each successful batch refresh,
// typically to write telemetry. May be nil.
type PollRecorder interface {
	RecordPoll(latency time.Duration, devices []cloud.DeviceRecord)
}

// PollingController schedules batch refreshes of all devices and adapts
// the interval to observed heating activity: while any heater is
// actively heating the poll speeds up to a fixed fast interval, and
// relaxes back to the configured interval once everything is idle.
type PollingController struct {
	api      CloudAPI
	registry *DeviceRegistry
	sched    Scheduler

	mu              sync.Mutex
	normalInterval  time.Duration
	fastInterval    time.Duration
	currentInterval time.Duration
	removeOrphans   bool
	lastRefresh     time.Time

	telemetry PollRecorder
	logger    Logger
}

// NewPollingController creates a polling controller.
//
// Parameters:
//   - api: Cloud API client
//   - registry: Device registry receiving sync results
//   - sched: Scheduler owning the poll timers
//   - normal: Configured poll interval
//   - fast: Interval used while any device is heating
//   - removeOrphans: Whether discovery removes vanished devices
func NewPollingController(api CloudAPI, registry *DeviceRegistry, sched Scheduler,
	normal, fast time.Duration, removeOrphans bool) *PollingController {
	return &PollingController{
		api:             api,
		registry:        registry,
		sched:           sched,
		normalInterval:  normal,
		fastInterval:    fast,
		currentInterval: normal,
		removeOrphans:   removeOrphans,
		logger:          noopLogger{},
	}
}

// SetLogger sets the logger for the polling controller.
func (p *PollingController) SetLogger(logger Logger) {
	p.logger = logger
}

// SetTelemetry sets the telemetry recorder for successful refreshes.
func (p *PollingController) SetTelemetry(t PollRecorder) {
	p.mu.Lock()
	p.telemetry = t
	p.mu.Unlock()
}

// SchedulePolling installs the recurring batch refresh at the given
// interval, plus a one-shot refresh shortly after. Any previous poll
// schedule is replaced, never duplicated.
func (p *PollingController) SchedulePolling(interval time.Duration) {
	p.mu.Lock()
	p.normalInterval = interval
	p.currentInterval = interval
	p.mu.Unlock()

	p.installPoll(interval)
	p.sched.ScheduleOnce(jobInitialRefresh, initialRefreshDelay, func() {
		p.refreshAllJob()
	})
	p.logger.Info("polling scheduled", "interval", interval)
}

// CancelPolling removes the poll schedule, including any pending
// initial refresh. Used when the circuit opens.
func (p *PollingController) CancelPolling() {
	p.sched.Cancel(jobPoll)
	p.sched.Cancel(jobInitialRefresh)
	p.logger.Info("polling cancelled")
}

// ResumePolling reinstates the recurring refresh at the current
// effective interval. Used when the circuit closes.
func (p *PollingController) ResumePolling() {
	p.mu.Lock()
	interval := p.currentInterval
	p.mu.Unlock()

	p.installPoll(interval)
	p.logger.Info("polling resumed", "interval", interval)
}

// SetNormalInterval changes the configured poll interval. When the
// poller is not in its fast mode the live schedule is replaced too.
func (p *PollingController) SetNormalInterval(interval time.Duration) {
	p.mu.Lock()
	if interval == p.normalInterval {
		p.mu.Unlock()
		return
	}
	p.normalInterval = interval

	reschedule := p.currentInterval != p.fastInterval
	if reschedule {
		p.currentInterval = interval
	}
	p.mu.Unlock()

	if reschedule && p.sched.IsScheduled(jobPoll) {
		p.installPoll(interval)
	}
}

// RefreshAll fetches the full device list in one batched call,
// reconciles the registry, applies every device update, and runs the
// adaptive-interval adjustment. API health is recorded by the client.
func (p *PollingController) RefreshAll(ctx context.Context) error {
	start := time.Now()

	devices, err := p.api.ListDevices(ctx)
	if err != nil {
		p.logger.Warn("batch refresh failed", "error", err)
		return fmt.Errorf("batch refresh: %w", err)
	}
	latency := time.Since(start)

	p.mu.Lock()
	removeOrphans := p.removeOrphans
	telemetry := p.telemetry
	p.lastRefresh = time.Now()
	p.mu.Unlock()

	p.registry.Reconcile(ctx, devices, removeOrphans)
	for _, rec := range devices {
		p.registry.ApplyUpdate(LocalID(rec.ID), rec)
	}

	p.logger.Debug("batch refresh complete",
		"devices", len(devices), "latency", latency)

	if telemetry != nil {
		telemetry.RecordPoll(latency, devices)
	}

	p.adaptInterval(devices)
	return nil
}

// RefreshOne fetches and applies the state of a single device, used
// for post-command confirmation.
func (p *PollingController) RefreshOne(ctx context.Context, localID string) error {
	remoteID, ok := p.registry.RemoteID(localID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, localID)
	}

	rec, err := p.api.GetDevice(ctx, remoteID)
	if err != nil {
		p.logger.Warn("device refresh failed", "device", localID, "error", err)
		return fmt.Errorf("refreshing %s: %w", localID, err)
	}

	p.registry.ApplyUpdate(localID, *rec)
	return nil
}

// CurrentInterval returns the live poll interval.
func (p *PollingController) CurrentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentInterval
}

// NormalInterval returns the configured poll interval.
func (p *PollingController) NormalInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.normalInterval
}

// LastRefresh returns when the last successful batch refresh completed,
// or the zero time if none has.
func (p *PollingController) LastRefresh() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh
}

// adaptInterval picks the target interval from heating activity and
// replaces the recurring schedule only when the interval actually
// changes.
func (p *PollingController) adaptInterval(devices []cloud.DeviceRecord) {
	heating := false
	for _, rec := range devices {
		if rec.PowerOn() {
			heating = true
			break
		}
	}

	p.mu.Lock()
	target := p.normalInterval
	if heating {
		target = p.fastInterval
	}
	changed := target != p.currentInterval
	if changed {
		p.currentInterval = target
	}
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Info("adapting poll interval",
		"interval", target, "heating", heating)
	p.installPoll(target)
}

// installPoll installs the recurring refresh job, replacing any
// existing one.
func (p *PollingController) installPoll(interval time.Duration) {
	p.sched.ScheduleEvery(jobPoll, interval, true, func() {
		p.refreshAllJob()
	})
}

// refreshAllJob is the scheduler-facing wrapper around RefreshAll.
// Errors are already logged and recorded; the job itself never fails.
func (p *PollingController) refreshAllJob() {
	//nolint:errcheck // Outcome is logged and recorded by the health monitor
	_ = p.RefreshAll(context.Background())
}
