// Package mqtt provides the MQTT publisher used to mirror module events.
//
// MicroCoaster does not depend on MQTT for its own operation. When enabled,
// the event router republishes presence and telemetry so external tools
// (Home Assistant, Node-RED, Grafana agents) can follow the fleet:
//
//	microcoaster/module/{id}/presence   retained, {"online":true,...}
//	microcoaster/module/{id}/telemetry  latest sample
//	microcoaster/module/{id}/ack        command acknowledgements
//	microcoaster/core/status            retained, with Last Will
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload size checks
//   - Last Will and Testament so subscribers see the core go offline
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.ModulePresence(id), state, true)
package mqtt
