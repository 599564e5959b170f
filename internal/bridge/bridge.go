package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/heatbridge/internal/cloud"
	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
	"github.com/nerrad567/heatbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/heatbridge/internal/state"
)

// jobTokenRefresh names the proactive token refresh job.
const jobTokenRefresh = "token-refresh"

// Logger defines the logging interface used by bridge components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CommandBus is the slice of the MQTT client the bridge uses for
// command intake and health publication. May be nil when MQTT is
// disabled.
type CommandBus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Config carries the collaborators the bridge orchestrates.
type Config struct {
	// Cfg is the full application configuration.
	Cfg *config.Config

	// Store persists identity, session, health, and devices. Required.
	Store state.Store

	// Entities is the child-entity collaborator. Required.
	Entities EntityService

	// Bus is the MQTT client for command intake and health publishing.
	// Optional.
	Bus CommandBus

	// Scheduler owns all bridge timers. Required.
	Scheduler Scheduler

	// Telemetry records successful refreshes. Optional.
	Telemetry PollRecorder

	// Logger for all bridge components. Optional.
	Logger Logger

	// Version is the bridge software version, for health payloads.
	Version string
}

// Status is a point-in-time view of the bridge for the status surface.
type Status struct {
	Authenticated       bool       `json:"authenticated"`
	TokenExpiresAt      *time.Time `json:"token_expires_at,omitempty"`
	DeviceCount         int        `json:"device_count"`
	LastRefresh         *time.Time `json:"last_refresh,omitempty"`
	PollIntervalMinutes int        `json:"poll_interval_minutes"`
	AverageLatencyMS    int64      `json:"average_latency_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitOpen         bool       `json:"circuit_open"`
	Version             string     `json:"version"`
}

// Bridge wires the session, polling, and command orchestration
// together: the token manager and API client, the health monitor and
// its circuit breaker, the device registry, the polling controller,
// and the command dispatcher, all driven by one scheduler.
type Bridge struct {
	cfg      *config.Config
	store    state.Store
	bus      CommandBus
	sched    Scheduler
	tokens   *cloud.TokenManager
	api      *cloud.Client
	health   *HealthMonitor
	registry *DeviceRegistry
	poller   *PollingController
	commands *CommandDispatcher
	version  string
	logger   Logger
}

// New assembles a bridge from its collaborators, restoring persisted
// identity, session, health, and device state.
func New(ctx context.Context, bc Config) (*Bridge, error) {
	if bc.Cfg == nil || bc.Store == nil || bc.Entities == nil || bc.Scheduler == nil {
		return nil, errors.New("bridge: config, store, entities, and scheduler are required")
	}

	logger := bc.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	instanceID, err := bc.Store.EnsureInstanceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving instance id: %w", err)
	}

	b := &Bridge{
		cfg:     bc.Cfg,
		store:   bc.Store,
		bus:     bc.Bus,
		sched:   bc.Scheduler,
		version: bc.Version,
		logger:  logger,
	}

	b.tokens = cloud.NewTokenManager(bc.Cfg.Cloud, instanceID)
	b.tokens.SetLogger(logger)
	b.tokens.SetOnSession(b.onSession)

	b.api = cloud.NewClient(bc.Cfg.Cloud, b.tokens)
	b.api.SetLogger(logger)

	b.health = NewHealthMonitor(bc.Scheduler, b.tokens)
	b.health.SetLogger(logger)
	b.api.SetHealthRecorder(b.health)

	b.registry = NewDeviceRegistry(bc.Entities)
	b.registry.SetLogger(logger)
	b.registry.SetStore(bc.Store)

	b.poller = NewPollingController(b.api, b.registry, bc.Scheduler,
		bc.Cfg.GetPollInterval(), bc.Cfg.GetFastPollInterval(),
		bc.Cfg.Polling.RemoveOrphans)
	b.poller.SetLogger(logger)
	if bc.Telemetry != nil {
		b.poller.SetTelemetry(bc.Telemetry)
	}

	b.commands = NewCommandDispatcher(b.api, b.registry, b.poller, bc.Scheduler)
	b.commands.SetLogger(logger)

	b.health.OnCircuitOpen(b.poller.CancelPolling)
	b.health.OnCircuitClose(b.poller.ResumePolling)
	b.health.OnResetSuccess(func() {
		//nolint:errcheck // Outcome is recorded by the health monitor
		_ = b.poller.RefreshAll(context.Background())
	})
	b.health.OnStateChange(b.onHealthChange)

	b.restore(ctx)
	return b, nil
}

// restore adopts persisted session, health, and device state.
func (b *Bridge) restore(ctx context.Context) {
	if sess, err := b.store.LoadSession(ctx); err == nil {
		b.tokens.RestoreSession(*sess)
		b.scheduleTokenRefresh(*sess)
	} else if !errors.Is(err, state.ErrNotFound) {
		b.logger.Warn("loading persisted session failed", "error", err)
	}

	if snap, err := b.store.LoadHealthSnapshot(ctx); err == nil {
		b.health.Restore(snap.ConsecutiveFailures, snap.CircuitOpen, snap.LastSuccessAt)
		if snap.PollIntervalMinutes >= 1 && snap.PollIntervalMinutes <= 60 {
			b.poller.SetNormalInterval(time.Duration(snap.PollIntervalMinutes) * time.Minute)
		}
	} else if !errors.Is(err, state.ErrNotFound) {
		b.logger.Warn("loading persisted health failed", "error", err)
	}

	devices, err := b.store.ListDevices(ctx)
	if err != nil {
		b.logger.Warn("loading persisted devices failed", "error", err)
		return
	}
	b.registry.Restore(devices)
	if len(devices) > 0 {
		b.logger.Info("restored tracked devices", "count", len(devices))
	}
}

// Start subscribes to command topics and begins polling. The circuit
// may have been restored open, in which case polling stays suspended
// until the scheduled reset attempt succeeds.
func (b *Bridge) Start(ctx context.Context) error {
	if b.bus != nil {
		topic := mqtt.Topics{}.AllDeviceCommands()
		if err := b.bus.Subscribe(topic, 1, b.commands.HandleCommand); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
		b.logger.Info("command intake subscribed", "topic", topic)
	}

	if !b.health.CircuitOpen() {
		b.poller.SchedulePolling(b.poller.NormalInterval())
	}
	return nil
}

// Stop unwinds the bridge's schedules. The scheduler itself is closed
// by the caller, which owns its lifecycle.
func (b *Bridge) Stop() {
	b.poller.CancelPolling()
	b.sched.Cancel(jobTokenRefresh)
	b.sched.Cancel(jobCircuitReset)
}

// TriggerRefresh runs an immediate batch refresh, the "Refresh Now"
// action on the status surface.
func (b *Bridge) TriggerRefresh(ctx context.Context) error {
	return b.poller.RefreshAll(ctx)
}

// SetPollInterval changes the configured poll interval. Minutes must
// be within 1-60.
func (b *Bridge) SetPollInterval(minutes int) error {
	if minutes < 1 || minutes > 60 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, minutes)
	}
	b.poller.SetNormalInterval(time.Duration(minutes) * time.Minute)
	b.persistHealth(b.health.Snapshot())
	b.logger.Info("poll interval updated", "minutes", minutes)
	return nil
}

// SetTemperature forwards a setpoint command for a device.
func (b *Bridge) SetTemperature(ctx context.Context, localID string, value int) error {
	return b.commands.SetTemperature(ctx, localID, value)
}

// SetPower forwards a power command for a device.
func (b *Bridge) SetPower(ctx context.Context, localID string, on bool) error {
	return b.commands.SetPower(ctx, localID, on)
}

// Devices returns a snapshot of all tracked devices.
func (b *Bridge) Devices() []DeviceSnapshot {
	return b.registry.Devices()
}

// Status returns the read-only status panel view.
func (b *Bridge) Status() Status {
	snap := b.health.Snapshot()

	st := Status{
		DeviceCount:         b.registry.Count(),
		PollIntervalMinutes: int(b.poller.NormalInterval() / time.Minute),
		AverageLatencyMS:    snap.AverageLatencyMS,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		CircuitOpen:         snap.CircuitOpen,
		Version:             b.version,
	}

	if sess, ok := b.tokens.Session(); ok {
		st.Authenticated = true
		st.TokenExpiresAt = sess.ExpiresAt
	}
	if last := b.poller.LastRefresh(); !last.IsZero() {
		st.LastRefresh = &last
	}
	return st
}

// onSession persists each new session and schedules its proactive
// refresh. Invoked by the token manager while it holds the session
// lock, so it must not call back into the manager.
func (b *Bridge) onSession(sess cloud.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.store.SaveSession(ctx, sess); err != nil {
		b.logger.Error("persisting session failed", "error", err)
	}
	b.scheduleTokenRefresh(sess)
}

// scheduleTokenRefresh installs the proactive refresh for a session,
// or clears any pending one when the session does not warrant it.
func (b *Bridge) scheduleTokenRefresh(sess cloud.Session) {
	delay, ok := sess.RefreshIn()
	if !ok {
		b.sched.Cancel(jobTokenRefresh)
		return
	}

	b.sched.ScheduleOnce(jobTokenRefresh, delay, func() {
		b.logger.Info("proactive token refresh firing")
		b.tokens.EnsureValid(context.Background(), true)
	})
	b.logger.Debug("proactive token refresh scheduled", "in", delay)
}

// onHealthChange persists the health snapshot and publishes it to the
// bridge health topic.
func (b *Bridge) onHealthChange(snap HealthSnapshot) {
	b.persistHealth(snap)

	if b.bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"consecutive_failures": snap.ConsecutiveFailures,
		"circuit_open":         snap.CircuitOpen,
		"average_latency_ms":   snap.AverageLatencyMS,
		"version":              b.version,
	})
	if err != nil {
		return
	}
	if err := b.bus.Publish(mqtt.Topics{}.BridgeHealth(), payload, 1, true); err != nil {
		b.logger.Debug("publishing health failed", "error", err)
	}
}

// persistHealth saves the snapshot alongside the live poll interval.
func (b *Bridge) persistHealth(snap HealthSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.store.SaveHealthSnapshot(ctx, state.HealthSnapshot{
		ConsecutiveFailures: snap.ConsecutiveFailures,
		CircuitOpen:         snap.CircuitOpen,
		LastSuccessAt:       snap.LastSuccessAt,
		PollIntervalMinutes: int(b.poller.NormalInterval() / time.Minute),
	})
	if err != nil {
		b.logger.Error("persisting health failed", "error", err)
	}
}
