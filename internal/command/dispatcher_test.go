package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

type fakeConn struct {
	id      string
	sendErr error
	sent    []string
	params  []map[string]any
}

func (c *fakeConn) ID() string   { return c.id }
func (c *fakeConn) Close(string)   {}
func (c *fakeConn) SendCommand(cmd string, params map[string]any) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd)
	c.params = append(c.params, params)
	return nil
}

// closeOnly is a presence.Conn that cannot carry commands.
type closeOnly struct{}

func (closeOnly) ID() string   { return "close-only" }
func (closeOnly) Close(string) {}

type fakeSessions map[string]presence.Session

func (f fakeSessions) Session(id string) (presence.Session, bool) {
	s, ok := f[id]
	return s, ok
}

type fakeOwners map[string]error

// ownerTable maps modules to owners; errs overrides the lookup.
type ownerTable struct {
	owners map[string]string
	errs   fakeOwners
}

func (o ownerTable) FindOwner(_ context.Context, id string) (string, error) {
	if err, ok := o.errs[id]; ok {
		return "", err
	}
	owner, ok := o.owners[id]
	if !ok {
		return "", device.ErrModuleNotFound
	}
	return owner, nil
}

const (
	onlineID  = "MC-0001-ST"
	offlineID = "MC-0002-LFX"
)

func newTestDispatcher(conn presence.Conn) *Dispatcher {
	sessions := fakeSessions{
		onlineID: {DeviceID: onlineID, OwnerUserID: "alice", Conn: conn},
	}
	owners := ownerTable{
		owners: map[string]string{onlineID: "alice", offlineID: "alice"},
		errs: fakeOwners{
			"MC-0003-SM": device.ErrNoOwner,
			"MC-0004-AP": errors.New("database is locked"),
		},
	}
	return New(sessions, owners, logging.Discard())
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		deviceID string
		command  string
		want     Result
	}{
		{"owner online", "alice", onlineID, "switch_left", Result{Accepted: true}},
		{"non-owner online", "bob", onlineID, "switch_left", Result{Reason: ReasonForbidden}},
		{"owner offline", "alice", offlineID, "lights_on", Result{Reason: ReasonDeviceOffline}},
		{"non-owner offline", "bob", offlineID, "lights_on", Result{Reason: ReasonForbidden}},
		{"unknown module", "alice", "MC-9999-ST", "switch_left", Result{Reason: ReasonForbidden}},
		{"unclaimed module", "alice", "MC-0003-SM", "smoke", Result{Reason: ReasonForbidden}},
		{"lookup error", "alice", "MC-0004-AP", "play", Result{Reason: ReasonForbidden}},
		{"empty command", "alice", onlineID, "  ", Result{Reason: ReasonInvalidCommand}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{id: "c1"}
			d := newTestDispatcher(conn)

			got := d.Dispatch(context.Background(), tt.user, tt.deviceID, tt.command, nil)
			if got != tt.want {
				t.Fatalf("Dispatch() = %+v, want %+v", got, tt.want)
			}
			if tt.want.Accepted != (len(conn.sent) == 1) {
				t.Errorf("sent = %v, accepted = %v", conn.sent, tt.want.Accepted)
			}
		})
	}
}

func TestDispatch_NilParamsSentAsEmptyObject(t *testing.T) {
	conn := &fakeConn{id: "c1"}
	d := newTestDispatcher(conn)

	res := d.DispatchRequest(context.Background(), Request{
		DeviceID:         onlineID,
		Command:          "switch_left",
		RequestingUserID: "alice",
	})
	if !res.Accepted {
		t.Fatalf("DispatchRequest() = %+v", res)
	}
	if conn.params[0] == nil || len(conn.params[0]) != 0 {
		t.Errorf("params = %v, want empty object", conn.params[0])
	}
}

func TestDispatch_DeliveryFailed(t *testing.T) {
	t.Run("send error", func(t *testing.T) {
		d := newTestDispatcher(&fakeConn{id: "c1", sendErr: errors.New("queue full")})
		got := d.Dispatch(context.Background(), "alice", onlineID, "switch_left", nil)
		if got.Reason != ReasonDeliveryFailed {
			t.Errorf("Dispatch() = %+v, want delivery failed", got)
		}
	})

	t.Run("connection cannot send", func(t *testing.T) {
		d := newTestDispatcher(closeOnly{})
		got := d.Dispatch(context.Background(), "alice", onlineID, "switch_left", nil)
		if got.Reason != ReasonDeliveryFailed {
			t.Errorf("Dispatch() = %+v, want delivery failed", got)
		}
	})
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"absent", "", 0, false},
		{"null", "null", 0, false},
		{"empty object", "{}", 0, false},
		{"object", `{"speed": 3, "dir": "left"}`, 2, false},
		{"array", `[1,2]`, 0, true},
		{"string", `"fast"`, 0, true},
		{"broken object", `{"speed":`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrParamsNotObject) {
					t.Fatalf("ParseParams() error = %v, want ErrParamsNotObject", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseParams() error = %v", err)
			}
			if got == nil || len(got) != tt.wantLen {
				t.Errorf("ParseParams() = %v, want %d keys", got, tt.wantLen)
			}
		})
	}
}
