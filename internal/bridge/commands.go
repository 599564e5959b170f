package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Setpoint safety clamp and confirmation timing.
const (
	// minSetpoint and maxSetpoint bound accepted setpoints (°F). The
	// clamp is enforced here regardless of any clamping the caller did.
	minSetpoint = 50
	maxSetpoint = 85

	// confirmDelay is how long after a command the confirmation refresh
	// fires, allowing the API state to propagate.
	confirmDelay = 2 * time.Second
)

// Refresher is the slice of the polling controller the dispatcher uses
// for post-command confirmation refreshes.
type Refresher interface {
	RefreshOne(ctx context.Context, localID string) error
}

// command is the inbound command payload, from MQTT or the HTTP API.
// Exactly one field is expected per message.
type command struct {
	Setpoint *int    `json:"setpoint,omitempty"`
	Power    *string `json:"power,omitempty"`
}

// CommandDispatcher validates and forwards heater commands to the
// cloud, then schedules a confirmation refresh of the affected device.
type CommandDispatcher struct {
	api       CloudAPI
	registry  *DeviceRegistry
	refresher Refresher
	sched     Scheduler

	logger Logger
}

// NewCommandDispatcher creates a command dispatcher.
func NewCommandDispatcher(api CloudAPI, registry *DeviceRegistry, refresher Refresher, sched Scheduler) *CommandDispatcher {
	return &CommandDispatcher{
		api:       api,
		registry:  registry,
		refresher: refresher,
		sched:     sched,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (c *CommandDispatcher) SetLogger(logger Logger) {
	c.logger = logger
}

// SetTemperature forwards a new setpoint to the cloud. Values outside
// the safety clamp are rejected locally without any outbound call.
func (c *CommandDispatcher) SetTemperature(ctx context.Context, localID string, value int) error {
	if value < minSetpoint || value > maxSetpoint {
		c.logger.Warn("setpoint rejected",
			"device", localID, "value", value,
			"min", minSetpoint, "max", maxSetpoint)
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidSetpoint, value, minSetpoint, maxSetpoint)
	}

	remoteID, ok := c.registry.RemoteID(localID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, localID)
	}

	if err := c.api.UpdateTemperature(ctx, remoteID, value); err != nil {
		return fmt.Errorf("setting temperature on %s: %w", localID, err)
	}

	c.logger.Info("setpoint sent", "device", localID, "value", value)
	c.scheduleConfirmation(localID)
	return nil
}

// SetPower switches a heater on or off.
func (c *CommandDispatcher) SetPower(ctx context.Context, localID string, on bool) error {
	remoteID, ok := c.registry.RemoteID(localID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, localID)
	}

	if err := c.api.UpdatePower(ctx, remoteID, on); err != nil {
		return fmt.Errorf("setting power on %s: %w", localID, err)
	}

	c.logger.Info("power command sent", "device", localID, "on", on)
	c.scheduleConfirmation(localID)
	return nil
}

// HandleCommand processes an inbound MQTT command message. The device
// is identified by the final topic segment; the payload carries either
// a setpoint or a power command.
func (c *CommandDispatcher) HandleCommand(topic string, payload []byte) error {
	segments := strings.Split(topic, "/")
	localID := segments[len(segments)-1]
	if localID == "" {
		return fmt.Errorf("%w: no device in topic %q", ErrInvalidCommand, topic)
	}

	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	ctx := context.Background()
	switch {
	case cmd.Setpoint != nil:
		return c.SetTemperature(ctx, localID, *cmd.Setpoint)
	case cmd.Power != nil:
		switch *cmd.Power {
		case SwitchOn:
			return c.SetPower(ctx, localID, true)
		case SwitchOff:
			return c.SetPower(ctx, localID, false)
		default:
			return fmt.Errorf("%w: power %q", ErrInvalidCommand, *cmd.Power)
		}
	default:
		return fmt.Errorf("%w: no recognised field", ErrInvalidCommand)
	}
}

// scheduleConfirmation installs the delayed post-command refresh.
// Per-device job names let commands to different heaters confirm
// independently, while rapid commands to one heater coalesce.
func (c *CommandDispatcher) scheduleConfirmation(localID string) {
	c.sched.ScheduleOnce("confirm-"+localID, confirmDelay, func() {
		//nolint:errcheck // Failure is logged by the refresher
		_ = c.refresher.RefreshOne(context.Background(), localID)
	})
}
