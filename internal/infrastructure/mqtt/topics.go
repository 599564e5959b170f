package mqtt

import "fmt"

// Topic prefixes for the heatbridge MQTT namespace.
//
// All topics use the flat scheme: heatbridge/{category}/{protocol}/{id...}
// The protocol segment is always "heater" for this bridge; it keeps the
// namespace compatible with multi-bridge deployments.
const (
	// TopicPrefix is the base for all heatbridge topics.
	TopicPrefix = "heatbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "heatbridge/system"

	// Protocol is the protocol segment used in all device topics.
	Protocol = "heater"
)

// Topics provides builders for heatbridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceAttribute("heater-a1b2", "temperature")
//	// Returns: "heatbridge/state/heater/heater-a1b2/temperature"
type Topics struct{}

// DeviceAttribute returns the topic for a single attribute of a device.
//
// Example: heatbridge/state/heater/heater-a1b2/temperature
func (Topics) DeviceAttribute(localID, attribute string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, Protocol, localID, attribute)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: heatbridge/command/heater/heater-a1b2
func (Topics) DeviceCommand(localID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, localID)
}

// DeviceDiscovery returns the retained announcement topic for a device.
//
// Example: heatbridge/discovery/heater/heater-a1b2
func (Topics) DeviceDiscovery(localID string) string {
	return fmt.Sprintf("%s/discovery/%s/%s", TopicPrefix, Protocol, localID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: heatbridge/health/heater
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: heatbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching command topics for all devices.
//
// Pattern: heatbridge/command/heater/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}
