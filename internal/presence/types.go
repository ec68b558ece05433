package presence

import (
	"context"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/device"
)

// Conn is the transport side of a device session.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string

	// Close terminates the connection with a reason. It may be called with
	// a Tracker lock held, so it must not block or call back into the
	// Tracker; the connection reports its own disconnect later through
	// UnregisterDevice.
	Close(reason string)
}

// Session is the one live authenticated connection of a module.
type Session struct {
	DeviceID        string
	DeviceType      string
	OwnerUserID     string
	Conn            Conn
	AuthenticatedAt time.Time
}

// DeviceState is the last known state of a module. It survives reconnects.
type DeviceState struct {
	DeviceID      string         `json:"device_id"`
	DeviceType    string         `json:"device_type"`
	Online        bool           `json:"online"`
	LastSeen      time.Time      `json:"last_seen"`
	LastTelemetry map[string]any `json:"last_telemetry,omitempty"`
	OwnerUserID   string         `json:"owner_user_id,omitempty"`
}

// Notifier receives presence edges and telemetry. Methods are called with
// the module's shard lock held and must return promptly.
type Notifier interface {
	DeviceOnline(state DeviceState)
	DeviceOffline(state DeviceState)
	Telemetry(state DeviceState, sample map[string]any)
}

// StatusStore persists the last presence status of a module.
type StatusStore interface {
	PersistStatus(ctx context.Context, deviceID string, status device.Status) error
}

type nopNotifier struct{}

func (nopNotifier) DeviceOnline(DeviceState)              {}
func (nopNotifier) DeviceOffline(DeviceState)             {}
func (nopNotifier) Telemetry(DeviceState, map[string]any) {}
