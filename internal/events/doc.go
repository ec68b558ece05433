// Package events routes presence, telemetry and account activity to the
// dashboard clients that should see it.
//
// The Router implements presence.Notifier and gateway.AckSink. For every
// fact it picks an audience (a union of hub selectors) and hands the event
// to the hub, which delivers it without blocking:
//
//	module.online / module.offline   page "modules", every admin, the owner
//	module.telemetry                 the owner on page "modules", every admin
//	module.command_ack               as telemetry
//	module.claimed / module.released every admin, the owner
//	user.*                           every admin
//	stats                            every admin, debounced
//
// Presence and telemetry are also mirrored to MQTT and InfluxDB when those
// integrations are installed. The mirror runs on its own goroutine behind a
// bounded queue, so a slow broker never delays routing.
package events
