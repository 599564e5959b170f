// Package mqtt provides MQTT client connectivity for heatbridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The bridge uses MQTT as its outward-facing device surface: discovered
// heaters are announced on retained discovery topics, attribute changes
// are published to state topics, and commands arrive on command topics.
// The host platform (or any MQTT-aware consumer) owns the persistent
// entity representation; the bridge only decides when to create, delete,
// and update.
//
//	Heater Cloud API ↔ heatbridge ↔ MQTT Broker ↔ Host Platform
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // dispatch command
//	        return nil
//	    })
package mqtt
