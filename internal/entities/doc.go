// Package entities realises the child-entity collaborator over MQTT:
// retained discovery announcements, retained tombstones on removal,
// and per-attribute state topics. The bridge decides when entities
// come and go; this package owns how they are represented on the bus.
package entities
