// Package state persists bridge identity, the cloud session, health
// snapshots, and the set of tracked devices across restarts.
//
// The store is SQLite-backed and keyed on singleton rows. Session and
// health timestamps are stored as milliseconds since epoch so they
// restore without precision loss. Latency samples are transient and
// never persisted.
package state
