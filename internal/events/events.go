package events

import (
	"time"

	"github.com/nerrad567/microcoaster-core/internal/presence"
)

// Event names delivered to dashboard clients.
const (
	EventModuleOnline     = "module.online"
	EventModuleOffline    = "module.offline"
	EventModuleTelemetry  = "module.telemetry"
	EventModuleCommandAck = "module.command_ack"
	EventModuleClaimed    = "module.claimed"
	EventModuleReleased   = "module.released"

	EventUserLogin          = "user.login"
	EventUserLogout         = "user.logout"
	EventUserProfileChanged = "user.profile_changed"
	EventUserConnected      = "user.connected"
	EventUserDisconnected   = "user.disconnected"

	EventStats = "stats"
)

// PageModules is the dashboard page that lists modules.
const PageModules = "modules"

// TelemetryPayload is the payload of module.telemetry.
type TelemetryPayload struct {
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	LastSeen   time.Time      `json:"last_seen"`
	Telemetry  map[string]any `json:"telemetry"`
}

// AckPayload is the payload of module.command_ack.
type AckPayload struct {
	DeviceID string         `json:"device_id"`
	Ack      map[string]any `json:"ack"`
}

// ModulePayload is the payload of module.claimed and module.released.
type ModulePayload struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type,omitempty"`
	Name       string `json:"name,omitempty"`
	UserID     string `json:"user_id"`
}

// UserPayload is the payload of the user.* events.
type UserPayload struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Page         string `json:"page,omitempty"`
}

func telemetryPayload(state presence.DeviceState, sample map[string]any) TelemetryPayload {
	return TelemetryPayload{
		DeviceID:   state.DeviceID,
		DeviceType: state.DeviceType,
		LastSeen:   state.LastSeen,
		Telemetry:  sample,
	}
}
