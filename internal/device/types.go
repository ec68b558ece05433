package device

import "time"

// Type is the kind of hardware a module is.
type Type string

// Module types reported by the firmware in module_identify.
const (
	TypeStation      Type = "station"
	TypeSwitchTrack  Type = "switch-track"
	TypeLightFX      Type = "light-fx"
	TypeLaunchTrack  Type = "launch-track"
	TypeSmokeMachine Type = "smoke-machine"
	TypeAudioPlayer  Type = "audio-player"
)

// typeCodes maps the ID suffix to the module type.
var typeCodes = map[string]Type{
	"STN": TypeStation,
	"ST":  TypeSwitchTrack,
	"LFX": TypeLightFX,
	"LT":  TypeLaunchTrack,
	"SM":  TypeSmokeMachine,
	"AP":  TypeAudioPlayer,
}

// AllTypes returns every known module type.
func AllTypes() []Type {
	return []Type{
		TypeStation,
		TypeSwitchTrack,
		TypeLightFX,
		TypeLaunchTrack,
		TypeSmokeMachine,
		TypeAudioPlayer,
	}
}

// Status is the persisted presence of a module.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusUnknown:
		return true
	}
	return false
}

// Module is the durable record of a physical module.
type Module struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Name       string     `json:"name"`
	OwnerID    string     `json:"owner_id,omitempty"` // empty when unclaimed
	SecretHash string     `json:"-"`
	Status     Status     `json:"status"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsClaimed reports whether the module has an owner.
func (m *Module) IsClaimed() bool {
	return m.OwnerID != ""
}
