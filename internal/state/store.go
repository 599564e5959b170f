package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/heatbridge/internal/cloud"
)

// Store defines the interface for bridge state persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Store interface {
	// EnsureInstanceID returns the stable device instance id for this
	// bridge, generating and persisting one on first call.
	EnsureInstanceID(ctx context.Context) (string, error)

	// SaveSession persists the current cloud session, replacing any
	// previous one.
	SaveSession(ctx context.Context, s cloud.Session) error

	// LoadSession returns the persisted session.
	// Returns ErrNotFound if no session has been saved.
	LoadSession(ctx context.Context) (*cloud.Session, error)

	// SaveHealthSnapshot persists the latest health state.
	SaveHealthSnapshot(ctx context.Context, snap HealthSnapshot) error

	// LoadHealthSnapshot returns the persisted health state.
	// Returns ErrNotFound if none has been saved.
	LoadHealthSnapshot(ctx context.Context) (*HealthSnapshot, error)

	// UpsertDevice records a tracked device.
	UpsertDevice(ctx context.Context, d TrackedDevice) error

	// DeleteDevice removes a tracked device by local id.
	DeleteDevice(ctx context.Context, localID string) error

	// ListDevices returns all tracked devices.
	ListDevices(ctx context.Context) ([]TrackedDevice, error)
}

// TrackedDevice is a locally tracked heater, surviving restarts.
type TrackedDevice struct {
	// LocalID is the deterministic identifier used on the MQTT surface.
	LocalID string

	// RemoteID is the opaque cloud device identifier.
	RemoteID string

	// Name is the display name reported by the cloud at creation time.
	Name string

	// CreatedAt is when the device was first discovered.
	CreatedAt time.Time
}

// HealthSnapshot is the persisted slice of the health monitor's state.
// Latency samples are deliberately not persisted; the rolling window
// restarts empty.
type HealthSnapshot struct {
	ConsecutiveFailures int
	CircuitOpen         bool
	LastSuccessAt       *time.Time
	PollIntervalMinutes int
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("state: not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureInstanceID returns the stable device instance id, generating one
// on first run. The id identifies this polling client to the remote API
// and must never change for the life of the integration instance.
func (s *SQLiteStore) EnsureInstanceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT device_instance_id FROM bridge_identity WHERE id = 1",
	).Scan(&id)

	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("querying instance id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO bridge_identity (id, device_instance_id, created_at) VALUES (1, ?, ?)",
		id,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return "", fmt.Errorf("persisting instance id: %w", err)
	}
	return id, nil
}

// SaveSession persists the session, replacing any previous one.
// Timestamps are stored as milliseconds since epoch.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess cloud.Session) error {
	var expiresAt *int64
	if sess.ExpiresAt != nil {
		ms := sess.ExpiresAt.UnixMilli()
		expiresAt = &ms
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cloud_session (id, token, issued_at, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.Token,
		sess.IssuedAt.UnixMilli(),
		expiresAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, if any.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*cloud.Session, error) {
	var (
		token     string
		issuedAt  int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT token, issued_at, expires_at FROM cloud_session WHERE id = 1",
	).Scan(&token, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess := &cloud.Session{
		Token:    token,
		IssuedAt: time.UnixMilli(issuedAt),
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		sess.ExpiresAt = &t
	}
	return sess, nil
}

// SaveHealthSnapshot persists the health state, replacing any previous one.
func (s *SQLiteStore) SaveHealthSnapshot(ctx context.Context, snap HealthSnapshot) error {
	var lastSuccess *int64
	if snap.LastSuccessAt != nil {
		ms := snap.LastSuccessAt.UnixMilli()
		lastSuccess = &ms
	}

	circuitOpen := 0
	if snap.CircuitOpen {
		circuitOpen = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_snapshot (id, consecutive_failures, circuit_open, last_success_at, poll_interval_minutes, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			circuit_open = excluded.circuit_open,
			last_success_at = excluded.last_success_at,
			poll_interval_minutes = excluded.poll_interval_minutes,
			updated_at = excluded.updated_at`,
		snap.ConsecutiveFailures,
		circuitOpen,
		lastSuccess,
		snap.PollIntervalMinutes,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving health snapshot: %w", err)
	}
	return nil
}

// LoadHealthSnapshot returns the persisted health state, if any.
func (s *SQLiteStore) LoadHealthSnapshot(ctx context.Context) (*HealthSnapshot, error) {
	var (
		snap        HealthSnapshot
		circuitOpen int
		lastSuccess sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT consecutive_failures, circuit_open, last_success_at, poll_interval_minutes FROM health_snapshot WHERE id = 1",
	).Scan(&snap.ConsecutiveFailures, &circuitOpen, &lastSuccess, &snap.PollIntervalMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading health snapshot: %w", err)
	}

	snap.CircuitOpen = circuitOpen != 0
	if lastSuccess.Valid {
		t := time.UnixMilli(lastSuccess.Int64)
		snap.LastSuccessAt = &t
	}
	return &snap, nil
}

// UpsertDevice records a tracked device, keyed by local id.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, d TrackedDevice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_devices (local_id, remote_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id = excluded.remote_id,
			name = excluded.name`,
		d.LocalID,
		d.RemoteID,
		d.Name,
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.LocalID, err)
	}
	return nil
}

// DeleteDevice removes a tracked device by local id.
// Deleting an unknown device is not an error.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, localID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM tracked_devices WHERE local_id = ?", localID,
	); err != nil {
		return fmt.Errorf("deleting device %s: %w", localID, err)
	}
	return nil
}

// ListDevices returns all tracked devices ordered by local id.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]TrackedDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT local_id, remote_id, name, created_at FROM tracked_devices ORDER BY local_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []TrackedDevice
	for rows.Next() {
		var (
			d         TrackedDevice
			createdAt string
		)
		if err := rows.Scan(&d.LocalID, &d.RemoteID, &d.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}
