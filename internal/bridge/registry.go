package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/heatbridge/internal/cloud"
	"github.com/nerrad567/heatbridge/internal/state"
)

// Attribute names emitted for each heater.
const (
	AttrTemperature     = "temperature"
	AttrHeatingSetpoint = "heatingSetpoint"
	AttrThermostatMode  = "thermostatMode"
	AttrOperatingState  = "thermostatOperatingState"
	AttrSwitch          = "switch"
	AttrAvailable       = "available"
)

// Attribute values for the mode and state attributes.
const (
	ModeHeat     = "heat"
	ModeOff      = "off"
	StateHeating = "heating"
	StateIdle    = "idle"
	SwitchOn     = "on"
	SwitchOff    = "off"
)

// EntityService is the external child-entity collaborator: it owns how
// entities are represented and announced, while the registry decides
// when to create, delete, and update them.
type EntityService interface {
	// Create announces a new child entity.
	Create(localID, displayName string) error

	// Delete removes a child entity.
	Delete(localID string) error

	// SendAttributeEvent publishes one attribute value for an entity.
	// Unit is empty for unitless attributes.
	SendAttributeEvent(localID, attribute string, value any, unit string) error
}

// DeviceStore is the slice of the state store the registry uses to
// persist the tracked device list across restarts. May be nil.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, d state.TrackedDevice) error
	DeleteDevice(ctx context.Context, localID string) error
}

// DeviceSnapshot is a read-only view of one tracked device.
type DeviceSnapshot struct {
	LocalID    string         `json:"local_id"`
	RemoteID   string         `json:"remote_id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// localDevice is the registry's record of one tracked heater.
// attributes holds the last value emitted per attribute.
type localDevice struct {
	localID    string
	remoteID   string
	name       string
	attributes map[string]any
}

// LocalID derives the deterministic local entity identifier for a
// remote device id. The mapping is stable so entities survive restarts
// and re-discovery.
func LocalID(remoteID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(remoteID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return "heater-" + b.String()
}

// DeviceRegistry maps remote device identifiers to local entity
// records, creating and removing child entities from discovery results
// and emitting change-filtered attribute events on refresh.
type DeviceRegistry struct {
	entities EntityService

	mu      sync.Mutex
	devices map[string]*localDevice // keyed by local id
	store   DeviceStore

	logger Logger
}

// NewDeviceRegistry creates a registry backed by the given entity service.
func NewDeviceRegistry(entities EntityService) *DeviceRegistry {
	return &DeviceRegistry{
		entities: entities,
		devices:  make(map[string]*localDevice),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *DeviceRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetStore sets the persistent device store.
func (r *DeviceRegistry) SetStore(store DeviceStore) {
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

// Restore adopts persisted tracked devices at startup. No attribute
// history is restored, so the first refresh emits every attribute.
func (r *DeviceRegistry) Restore(devices []state.TrackedDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range devices {
		r.devices[d.LocalID] = &localDevice{
			localID:    d.LocalID,
			remoteID:   d.RemoteID,
			name:       d.Name,
			attributes: make(map[string]any),
		}
	}
}

// Reconcile aligns the tracked device set with a discovery result.
//
// Remote devices without a local record get a child entity created;
// existing records are left untouched. When removeOrphans is enabled,
// locally tracked devices absent from the result are deleted. Entity
// create and delete failures are logged, never fatal, and do not abort
// processing of the remaining devices.
func (r *DeviceRegistry) Reconcile(ctx context.Context, remote []cloud.DeviceRecord, removeOrphans bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(remote))
	for _, rec := range remote {
		localID := LocalID(rec.ID)
		seen[localID] = struct{}{}

		if _, ok := r.devices[localID]; ok {
			continue
		}

		if err := r.entities.Create(localID, rec.Name); err != nil {
			// Not tracked, so creation is retried next cycle.
			r.logger.Error("creating child entity failed",
				"device", localID, "error", err)
			continue
		}

		r.devices[localID] = &localDevice{
			localID:    localID,
			remoteID:   rec.ID,
			name:       rec.Name,
			attributes: make(map[string]any),
		}
		r.logger.Info("discovered heater", "device", localID, "name", rec.Name)

		if r.store != nil {
			if err := r.store.UpsertDevice(ctx, state.TrackedDevice{
				LocalID:   localID,
				RemoteID:  rec.ID,
				Name:      rec.Name,
				CreatedAt: time.Now(),
			}); err != nil {
				r.logger.Error("persisting device failed", "device", localID, "error", err)
			}
		}
	}

	if !removeOrphans {
		return
	}

	for localID := range r.devices {
		if _, ok := seen[localID]; ok {
			continue
		}

		if err := r.entities.Delete(localID); err != nil {
			r.logger.Error("deleting child entity failed",
				"device", localID, "error", err)
		}
		delete(r.devices, localID)
		r.logger.Info("removed orphaned heater", "device", localID)

		if r.store != nil {
			if err := r.store.DeleteDevice(ctx, localID); err != nil {
				r.logger.Error("removing persisted device failed",
					"device", localID, "error", err)
			}
		}
	}
}

// ApplyUpdate maps a remote record onto the fixed attribute set and
// emits a change event per attribute, but only when the value differs
// from the last emitted value or none has been emitted yet. Comparison
// is strict equality, not a tolerance band.
func (r *DeviceRegistry) ApplyUpdate(localID string, rec cloud.DeviceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[localID]
	if !ok {
		r.logger.Debug("update for untracked device ignored", "device", localID)
		return
	}

	mode, opState, sw := ModeOff, StateIdle, SwitchOff
	if rec.PowerOn() {
		mode, opState, sw = ModeHeat, StateHeating, SwitchOn
	}

	updates := []struct {
		name  string
		value any
		unit  string
	}{
		{AttrTemperature, rec.AmbientTemperature, "F"},
		{AttrHeatingSetpoint, rec.TargetTemperature(), "F"},
		{AttrThermostatMode, mode, ""},
		{AttrOperatingState, opState, ""},
		{AttrSwitch, sw, ""},
		{AttrAvailable, rec.Available(), ""},
	}

	for _, u := range updates {
		prev, emitted := d.attributes[u.name]
		if emitted && prev == u.value {
			continue
		}

		if err := r.entities.SendAttributeEvent(localID, u.name, u.value, u.unit); err != nil {
			// Last emitted value is left unchanged so the event is
			// retried next cycle.
			r.logger.Error("attribute event failed",
				"device", localID, "attribute", u.name, "error", err)
			continue
		}
		d.attributes[u.name] = u.value
	}
}

// RemoteID returns the remote identifier for a tracked local id.
func (r *DeviceRegistry) RemoteID(localID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[localID]
	if !ok {
		return "", false
	}
	return d.remoteID, true
}

// Count returns the number of tracked devices.
func (r *DeviceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Devices returns a snapshot of all tracked devices sorted by local id.
func (r *DeviceRegistry) Devices() []DeviceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeviceSnapshot, 0, len(r.devices))
	for _, d := range r.devices {
		attrs := make(map[string]any, len(d.attributes))
		for k, v := range d.attributes {
			attrs[k] = v
		}
		out = append(out, DeviceSnapshot{
			LocalID:    d.localID,
			RemoteID:   d.remoteID,
			Name:       d.name,
			Attributes: attrs,
		})
	}
	sortSnapshots(out)
	return out
}

func sortSnapshots(s []DeviceSnapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].LocalID < s[j].LocalID })
}
