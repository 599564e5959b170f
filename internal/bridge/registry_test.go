package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/heatbridge/internal/cloud"
	"github.com/nerrad567/heatbridge/internal/state"
)

// fakeEntities records entity operations and can inject failures.
type fakeEntities struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	events    []entityEvent
	createErr error
	deleteErr map[string]error
	eventErr  map[string]error
}

type entityEvent struct {
	localID   string
	attribute string
	value     any
	unit      string
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		deleteErr: make(map[string]error),
		eventErr:  make(map[string]error),
	}
}

func (f *fakeEntities) Create(localID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, localID)
	return nil
}

func (f *fakeEntities) Delete(localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[localID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, localID)
	return nil
}

func (f *fakeEntities) SendAttributeEvent(localID, attribute string, value any, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.eventErr[attribute]; err != nil {
		return err
	}
	f.events = append(f.events, entityEvent{localID, attribute, value, unit})
	return nil
}

func (f *fakeEntities) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeEntities) clearEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func heaterRecord(id string, ambient, target float64, on bool) cloud.DeviceRecord {
	rec := cloud.DeviceRecord{
		ID:                 id,
		Name:               "Heater " + id,
		AmbientTemperature: ambient,
		CurrentTemperature: target,
		Status:             1,
	}
	if on {
		rec.State = 1
	}
	return rec
}

func TestLocalID(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"ABC123", "heater-abc123"},
		{"dev_42", "heater-dev-42"},
		{"a1b2", "heater-a1b2"},
	}
	for _, tt := range tests {
		if got := LocalID(tt.remote); got != tt.want {
			t.Errorf("LocalID(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestReconcileCreatesMissing(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	remote := []cloud.DeviceRecord{
		heaterRecord("A", 68, 70, false),
		heaterRecord("B", 65, 72, false),
	}
	r.Reconcile(context.Background(), remote, false)

	if r.Count() != 2 {
		t.Fatalf("tracked %d devices, want 2", r.Count())
	}
	if len(entities.created) != 2 {
		t.Fatalf("created %d entities, want 2", len(entities.created))
	}

	// A second reconcile with the same devices creates nothing new.
	r.Reconcile(context.Background(), remote, false)
	if len(entities.created) != 2 {
		t.Errorf("re-reconcile created %d more entities", len(entities.created)-2)
	}
}

func TestOrphanRemoval(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	all := []cloud.DeviceRecord{
		heaterRecord("A", 68, 70, false),
		heaterRecord("B", 65, 72, false),
		heaterRecord("C", 60, 75, false),
	}
	r.Reconcile(context.Background(), all, false)

	// C vanishes from discovery. With removal disabled it stays tracked.
	remaining := all[:2]
	r.Reconcile(context.Background(), remaining, false)
	if r.Count() != 3 {
		t.Fatalf("tracked %d devices with removal disabled, want 3", r.Count())
	}

	// With removal enabled C is deleted; A and B are untouched.
	r.Reconcile(context.Background(), remaining, true)
	if r.Count() != 2 {
		t.Fatalf("tracked %d devices after orphan removal, want 2", r.Count())
	}
	if len(entities.deleted) != 1 || entities.deleted[0] != "heater-c" {
		t.Errorf("deleted = %v, want [heater-c]", entities.deleted)
	}
	if _, ok := r.RemoteID("heater-a"); !ok {
		t.Error("heater-a removed unexpectedly")
	}
	if _, ok := r.RemoteID("heater-b"); !ok {
		t.Error("heater-b removed unexpectedly")
	}
}

func TestOrphanDeleteFailureContinues(t *testing.T) {
	entities := newFakeEntities()
	entities.deleteErr["heater-c"] = errors.New("entity backend down")
	r := NewDeviceRegistry(entities)

	r.Reconcile(context.Background(), []cloud.DeviceRecord{
		heaterRecord("A", 68, 70, false),
		heaterRecord("C", 60, 75, false),
		heaterRecord("D", 61, 76, false),
	}, false)

	// A remains; C and D are orphans, and C's entity deletion fails.
	r.Reconcile(context.Background(), []cloud.DeviceRecord{
		heaterRecord("A", 68, 70, false),
	}, true)

	if r.Count() != 1 {
		t.Errorf("tracked %d devices, want 1: a failed entity delete must not abort the loop", r.Count())
	}
	if len(entities.deleted) != 1 || entities.deleted[0] != "heater-d" {
		t.Errorf("deleted = %v, want [heater-d]", entities.deleted)
	}
}

func TestEntityCreateFailureRetriedNextCycle(t *testing.T) {
	entities := newFakeEntities()
	entities.createErr = errors.New("entity backend down")
	r := NewDeviceRegistry(entities)

	remote := []cloud.DeviceRecord{heaterRecord("A", 68, 70, false)}
	r.Reconcile(context.Background(), remote, false)
	if r.Count() != 0 {
		t.Fatal("device tracked despite entity creation failure")
	}

	entities.mu.Lock()
	entities.createErr = nil
	entities.mu.Unlock()

	r.Reconcile(context.Background(), remote, false)
	if r.Count() != 1 {
		t.Fatal("device not created on retry cycle")
	}
}

func TestApplyUpdateFirstObservationEmitsAll(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	rec := heaterRecord("A", 68.5, 72, true)
	r.Reconcile(context.Background(), []cloud.DeviceRecord{rec}, false)
	entities.clearEvents()

	r.ApplyUpdate("heater-a", rec)

	if got := entities.eventCount(); got != 6 {
		t.Fatalf("first observation emitted %d events, want 6", got)
	}

	byName := make(map[string]entityEvent)
	for _, e := range entities.events {
		byName[e.attribute] = e
	}
	if v := byName[AttrTemperature]; v.value != 68.5 || v.unit != "F" {
		t.Errorf("temperature event = %+v", v)
	}
	if v := byName[AttrHeatingSetpoint]; v.value != 72.0 || v.unit != "F" {
		t.Errorf("setpoint event = %+v", v)
	}
	if v := byName[AttrThermostatMode]; v.value != ModeHeat {
		t.Errorf("mode event = %+v", v)
	}
	if v := byName[AttrOperatingState]; v.value != StateHeating {
		t.Errorf("operating state event = %+v", v)
	}
	if v := byName[AttrSwitch]; v.value != SwitchOn {
		t.Errorf("switch event = %+v", v)
	}
	if v := byName[AttrAvailable]; v.value != true {
		t.Errorf("available event = %+v", v)
	}
}

func TestApplyUpdateChangeFiltering(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	rec := heaterRecord("A", 68, 72, false)
	r.Reconcile(context.Background(), []cloud.DeviceRecord{rec}, false)
	r.ApplyUpdate("heater-a", rec)
	entities.clearEvents()

	// Identical data emits nothing.
	r.ApplyUpdate("heater-a", rec)
	if got := entities.eventCount(); got != 0 {
		t.Fatalf("identical update emitted %d events, want 0", got)
	}

	// One changed field emits exactly one event.
	rec.AmbientTemperature = 69
	r.ApplyUpdate("heater-a", rec)
	if got := entities.eventCount(); got != 1 {
		t.Fatalf("single field change emitted %d events, want 1", got)
	}
	if e := entities.events[0]; e.attribute != AttrTemperature || e.value != 69.0 {
		t.Errorf("event = %+v, want temperature 69", e)
	}
}

func TestApplyUpdatePowerFlipEmitsDerivedAttributes(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	rec := heaterRecord("A", 68, 72, false)
	r.Reconcile(context.Background(), []cloud.DeviceRecord{rec}, false)
	r.ApplyUpdate("heater-a", rec)
	entities.clearEvents()

	// Power on changes mode, operating state, and switch together.
	rec.State = 1
	r.ApplyUpdate("heater-a", rec)
	if got := entities.eventCount(); got != 3 {
		t.Fatalf("power flip emitted %d events, want 3", got)
	}
}

func TestApplyUpdateEventFailureRetried(t *testing.T) {
	entities := newFakeEntities()
	entities.eventErr[AttrTemperature] = errors.New("publish failed")
	r := NewDeviceRegistry(entities)

	rec := heaterRecord("A", 68, 72, false)
	r.Reconcile(context.Background(), []cloud.DeviceRecord{rec}, false)
	r.ApplyUpdate("heater-a", rec)
	entities.clearEvents()

	// The failed attribute was not recorded as emitted, so the same
	// value re-emits once publishing recovers.
	entities.mu.Lock()
	delete(entities.eventErr, AttrTemperature)
	entities.mu.Unlock()

	r.ApplyUpdate("heater-a", rec)
	if got := entities.eventCount(); got != 1 {
		t.Fatalf("recovered update emitted %d events, want 1", got)
	}
	if e := entities.events[0]; e.attribute != AttrTemperature {
		t.Errorf("event = %+v, want temperature retry", e)
	}
}

func TestApplyUpdateUntrackedIgnored(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	r.ApplyUpdate("heater-ghost", heaterRecord("ghost", 68, 72, false))
	if got := entities.eventCount(); got != 0 {
		t.Errorf("untracked device emitted %d events, want 0", got)
	}
}

func TestRestoreTracksWithoutEntities(t *testing.T) {
	entities := newFakeEntities()
	r := NewDeviceRegistry(entities)

	r.Restore([]state.TrackedDevice{
		{LocalID: "heater-a", RemoteID: "A", Name: "Living Room"},
	})

	if r.Count() != 1 {
		t.Fatalf("tracked %d devices after restore, want 1", r.Count())
	}
	if len(entities.created) != 0 {
		t.Error("restore must not re-create entities")
	}

	// Reconcile sees the restored device as existing.
	r.Reconcile(context.Background(), []cloud.DeviceRecord{heaterRecord("A", 68, 70, false)}, false)
	if len(entities.created) != 0 {
		t.Error("reconcile re-created a restored entity")
	}
}
