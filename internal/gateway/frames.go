package gateway

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Frame types sent by modules.
const (
	FrameIdentify        = "module_identify"
	FrameTelemetry       = "telemetry"
	FrameHeartbeat       = "heartbeat"
	FrameCommandResponse = "command_response"
	FramePong            = "pong"
)

// Frame types sent to modules.
const (
	FrameConnected  = "connected"
	FrameError      = "error"
	FrameSuperseded = "superseded"
	FrameCommand    = "command"
)

// Close reasons.
const (
	ReasonIdentifyTimeout   = "identification timeout"
	ReasonHeartbeatTimeout  = "heartbeat timeout"
	ReasonProtocolViolation = "protocol violation"
	ReasonAuthFailed        = "authentication failed"
	ReasonSuperseded        = "superseded"
	ReasonShutdown          = "server shutdown"
)

// inbound is a decoded module frame. The envelope keys are pulled out and
// everything else is left in fields.
type inbound struct {
	Type       string
	ModuleID   string
	Password   string
	ModuleType string
	fields     map[string]any
}

// envelopeKeys never reach telemetry payloads.
var envelopeKeys = []string{"type", "moduleId", "password"}

func decodeFrame(data []byte) (*inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", errMalformedFrame)
	}

	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing type", errMalformedFrame)
	}

	f := &inbound{Type: typ, fields: raw}
	var bad bool
	f.ModuleID, bad = optionalString(raw, "moduleId")
	if bad {
		return nil, fmt.Errorf("%w: moduleId is not a string", errMalformedFrame)
	}
	f.Password, bad = optionalString(raw, "password")
	if bad {
		return nil, fmt.Errorf("%w: password is not a string", errMalformedFrame)
	}
	f.ModuleType, _ = optionalString(raw, "moduleType")
	return f, nil
}

// optionalString returns m[key] as a string; bad is true when the key is
// present with a non-string value.
func optionalString(m map[string]any, key string) (s string, bad bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok = v.(string)
	return s, !ok
}

// hasCredentials reports whether the frame carries both credential halves.
func (f *inbound) hasCredentials() bool {
	return f.ModuleID != "" && f.Password != ""
}

// payload returns the frame fields without the envelope keys.
func (f *inbound) payload() map[string]any {
	out := maps.Clone(f.fields)
	for _, k := range envelopeKeys {
		delete(out, k)
	}
	return out
}

type connectedFrame struct {
	Type     string `json:"type"`
	ModuleID string `json:"moduleId"`
}

type messageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type commandFrame struct {
	Type string      `json:"type"`
	Data commandData `json:"data"`
}

type commandData struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}
