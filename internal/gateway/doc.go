// Package gateway is the Device Connection Gateway.
//
// Modules connect with a WebSocket upgrade on GET /esp32 and must send a
// module_identify frame within the identification timeout. Once the
// credentials check out the connection is registered with the presence
// tracker and becomes the module's session. From then on the server pings
// the module periodically and expects a pong control frame, a pong frame
// or a heartbeat frame before the pong timeout.
//
// # Connection states
//
//	CONNECTING -> AUTHENTICATING -> AUTHENTICATED -> CLOSED
//
// Any state may move to CLOSED. Malformed frames, unknown frame types,
// frames other than module_identify before authentication and frames that
// name a different module all close the connection as a protocol
// violation.
//
// # Frames
//
// Module to server: module_identify, telemetry, heartbeat,
// command_response, pong. Server to module: connected, error, superseded,
// command.
//
// The firmware repeats moduleId and password on every frame. A telemetry
// frame carrying credentials is accepted as an implicit identify.
package gateway
