// Package api provides the HTTP REST API and WebSocket endpoints of
// MicroCoaster Core.
//
// Routes live under /api/v1 and authenticate with a Bearer JWT. Dashboard
// clients upgrade /api/v1/ws with a single-use ticket from
// POST /api/v1/auth/ws-ticket and join the connection hub. Modules connect
// to the device gateway, mounted at the path their firmware expects
// (/esp32 by default).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
