package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

// Rejection reasons.
const (
	ReasonInvalidCommand = "invalid command"
	ReasonForbidden      = "forbidden"
	ReasonDeviceOffline  = "device offline"
	ReasonDeliveryFailed = "delivery failed"
)

// maxCommandLength bounds the command name.
const maxCommandLength = 64

// ErrParamsNotObject is returned by ParseParams for non-object JSON.
var ErrParamsNotObject = errors.New("command: params must be a JSON object")

// Request is a command on its way to a module.
type Request struct {
	DeviceID         string         `json:"deviceId"`
	Command          string         `json:"command"`
	Params           map[string]any `json:"params"`
	RequestingUserID string         `json:"-"`
}

// Result is the outcome of a dispatch.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func rejected(reason string) Result {
	return Result{Reason: reason}
}

// Sessions looks up live module sessions.
type Sessions interface {
	Session(deviceID string) (presence.Session, bool)
}

// OwnerLookup resolves the owner of a module that is not connected.
type OwnerLookup interface {
	FindOwner(ctx context.Context, deviceID string) (string, error)
}

// Sender is implemented by connections that can carry commands.
type Sender interface {
	SendCommand(command string, params map[string]any) error
}

// Dispatcher routes commands. It holds no state of its own.
type Dispatcher struct {
	sessions Sessions
	owners   OwnerLookup
	logger   *logging.Logger
}

// New creates a dispatcher.
func New(sessions Sessions, owners OwnerLookup, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{sessions: sessions, owners: owners, logger: logger}
}

// Dispatch checks ownership and presence, then forwards the command over
// the module's connection. A user who does not own the module gets
// "forbidden" whether or not it is online.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, deviceID, command string, params map[string]any) Result {
	command = strings.TrimSpace(command)
	if command == "" || len(command) > maxCommandLength {
		return rejected(ReasonInvalidCommand)
	}
	if params == nil {
		params = map[string]any{}
	}

	logger := d.logger.With("device_id", deviceID, "user_id", userID, "command", command)

	sess, online := d.sessions.Session(deviceID)
	if !online {
		return rejected(d.offlineReason(ctx, logger, userID, deviceID))
	}
	if sess.OwnerUserID == "" || sess.OwnerUserID != userID {
		return rejected(ReasonForbidden)
	}

	sender, ok := sess.Conn.(Sender)
	if !ok {
		logger.Error("session connection cannot carry commands")
		return rejected(ReasonDeliveryFailed)
	}
	if err := sender.SendCommand(command, params); err != nil {
		logger.Debug("command delivery failed", "error", err)
		return rejected(ReasonDeliveryFailed)
	}

	logger.Info("command dispatched")
	return Result{Accepted: true}
}

// DispatchRequest is Dispatch for a prepared Request.
func (d *Dispatcher) DispatchRequest(ctx context.Context, req Request) Result {
	return d.Dispatch(ctx, req.RequestingUserID, req.DeviceID, req.Command, req.Params)
}

// offlineReason hides presence from anyone but the owner.
func (d *Dispatcher) offlineReason(ctx context.Context, logger *logging.Logger, userID, deviceID string) string {
	owner, err := d.owners.FindOwner(ctx, deviceID)
	switch {
	case err == nil:
		if owner == userID {
			return ReasonDeviceOffline
		}
		return ReasonForbidden
	case errors.Is(err, device.ErrModuleNotFound), errors.Is(err, device.ErrNoOwner):
		return ReasonForbidden
	default:
		logger.Warn("owner lookup failed", "error", err)
		return ReasonForbidden
	}
}

// ParseParams decodes command params. Absent or null params become an
// empty object; anything other than an object is rejected.
func ParseParams(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrParamsNotObject
	}

	var params map[string]any
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, errors.Join(ErrParamsNotObject, err)
	}
	return params, nil
}
