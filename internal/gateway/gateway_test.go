package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

const (
	testModule = "MC-0001-ST"
	testSecret = "module-secret-1"
	testOwner  = "usr-alice"
)

type fakeCreds struct {
	modules map[string]device.Module
}

func (f *fakeCreds) ValidateCredentials(_ context.Context, id, secret string) (*device.Module, error) {
	m, ok := f.modules[id]
	if !ok || secret != testSecret {
		return nil, device.ErrInvalidCredentials
	}
	return &m, nil
}

type countingNotifier struct {
	mu        sync.Mutex
	online    int
	offline   int
	telemetry []map[string]any
}

func (n *countingNotifier) DeviceOnline(presence.DeviceState) {
	n.mu.Lock()
	n.online++
	n.mu.Unlock()
}

func (n *countingNotifier) DeviceOffline(presence.DeviceState) {
	n.mu.Lock()
	n.offline++
	n.mu.Unlock()
}

func (n *countingNotifier) Telemetry(_ presence.DeviceState, sample map[string]any) {
	n.mu.Lock()
	n.telemetry = append(n.telemetry, sample)
	n.mu.Unlock()
}

func (n *countingNotifier) counts() (online, offline, telemetry int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online, n.offline, len(n.telemetry)
}

type ackRecorder struct {
	mu   sync.Mutex
	acks []map[string]any
}

func (a *ackRecorder) CommandAck(_, _ string, ack map[string]any) {
	a.mu.Lock()
	a.acks = append(a.acks, ack)
	a.mu.Unlock()
}

func (a *ackRecorder) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks)
}

type harness struct {
	gw       *Gateway
	tracker  *presence.Tracker
	notifier *countingNotifier
	url      string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	logger := logging.Discard()
	tracker := presence.NewTracker(nil, logger)
	notifier := &countingNotifier{}
	tracker.SetNotifier(notifier)

	creds := &fakeCreds{modules: map[string]device.Module{
		testModule:   {ID: testModule, Type: device.TypeSwitchTrack, OwnerID: testOwner},
		"MC-0002-LT": {ID: "MC-0002-LT", Type: device.TypeLaunchTrack, OwnerID: testOwner},
	}}

	gw := New(opts, creds, tracker, logger)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gw.Shutdown(ctx) //nolint:errcheck // test cleanup
		srv.Close()
		tracker.Close()
	})

	return &harness{
		gw:       gw,
		tracker:  tracker,
		notifier: notifier,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test helper
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

// readClose reads until the server closes and returns the close reason.
func readClose(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test helper
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Text
		}
		t.Fatalf("expected close frame, got %v", err)
	}
}

func identify(t *testing.T, ws *websocket.Conn, id string) {
	t.Helper()
	writeJSON(t, ws, map[string]any{
		"type":       FrameIdentify,
		"moduleId":   id,
		"password":   testSecret,
		"moduleType": "switch-track",
		"uptime":     1200,
	})
	f := readFrame(t, ws)
	if f["type"] != FrameConnected || f["moduleId"] != id {
		t.Fatalf("identify reply = %v, want connected", f)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIdentify_Success(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)
	identify(t, ws, testModule)

	eventually(t, "module online", func() bool { return h.tracker.IsOnline(testModule) })

	sess, ok := h.tracker.Session(testModule)
	if !ok || sess.OwnerUserID != testOwner || sess.DeviceType != "switch-track" {
		t.Errorf("Session() = %+v, %v", sess, ok)
	}

	ws.Close()
	eventually(t, "module offline", func() bool { return !h.tracker.IsOnline(testModule) })
	eventually(t, "connection forgotten", func() bool { return h.gw.ConnectionCount() == 0 })
}

func TestIdentify_BadCredentials(t *testing.T) {
	tests := []struct {
		name  string
		frame map[string]any
	}{
		{"wrong secret", map[string]any{"type": FrameIdentify, "moduleId": testModule, "password": "nope"}},
		{"unknown module", map[string]any{"type": FrameIdentify, "moduleId": "MC-0404-ST", "password": testSecret}},
		{"missing password", map[string]any{"type": FrameIdentify, "moduleId": testModule}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			ws := h.dial(t)
			writeJSON(t, ws, tt.frame)

			f := readFrame(t, ws)
			if f["type"] != FrameError || f["message"] != ReasonAuthFailed {
				t.Errorf("reply = %v, want authentication failed error", f)
			}
			if reason := readClose(t, ws); reason != ReasonAuthFailed {
				t.Errorf("close reason = %q, want %q", reason, ReasonAuthFailed)
			}
			if online, _, _ := h.notifier.counts(); online != 0 {
				t.Errorf("online events = %d, want 0", online)
			}
		})
	}
}

func TestIdentifyTimeout(t *testing.T) {
	h := newHarness(t, Options{IdentifyTimeout: 50 * time.Millisecond})
	ws := h.dial(t)

	if reason := readClose(t, ws); reason != ReasonIdentifyTimeout {
		t.Errorf("close reason = %q, want %q", reason, ReasonIdentifyTimeout)
	}
}

func TestProtocolViolations(t *testing.T) {
	tests := []struct {
		name         string
		authenticate bool
		frame        string
	}{
		{"heartbeat before identify", false, `{"type":"heartbeat","uptime":1}`},
		{"telemetry without credentials before identify", false, `{"type":"telemetry","position":"left"}`},
		{"malformed json", false, `{"type":`},
		{"unknown type", true, `{"type":"reboot"}`},
		{"identify as another module", true, `{"type":"module_identify","moduleId":"MC-0002-LT","password":"module-secret-1"}`},
		{"telemetry for another module", true, `{"type":"telemetry","moduleId":"MC-0002-LT","position":"left"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			ws := h.dial(t)
			if tt.authenticate {
				identify(t, ws, testModule)
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write: %v", err)
			}

			if reason := readClose(t, ws); reason != ReasonProtocolViolation {
				t.Errorf("close reason = %q, want %q", reason, ReasonProtocolViolation)
			}
			if tt.authenticate {
				eventually(t, "offline event", func() bool {
					_, offline, _ := h.notifier.counts()
					return offline == 1
				})
			}
		})
	}
}

func TestTelemetry(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)
	identify(t, ws, testModule)

	writeJSON(t, ws, map[string]any{
		"type":     FrameTelemetry,
		"moduleId": testModule,
		"password": testSecret,
		"position": "left",
		"status":   "operational",
	})

	eventually(t, "telemetry event", func() bool {
		_, _, n := h.notifier.counts()
		return n == 1
	})

	snap, _ := h.tracker.Snapshot(testModule)
	if snap.LastTelemetry["position"] != "left" {
		t.Errorf("LastTelemetry = %v", snap.LastTelemetry)
	}
	if _, leaked := snap.LastTelemetry["password"]; leaked {
		t.Error("password leaked into telemetry")
	}
}

func TestTelemetry_ImplicitIdentify(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)

	writeJSON(t, ws, map[string]any{
		"type":     FrameTelemetry,
		"moduleId": testModule,
		"password": testSecret,
		"position": "right",
	})
	if f := readFrame(t, ws); f["type"] != FrameConnected {
		t.Fatalf("reply = %v, want connected", f)
	}

	eventually(t, "online and telemetry", func() bool {
		online, _, n := h.notifier.counts()
		return online == 1 && n == 1
	})
}

func TestDuplicateUnit(t *testing.T) {
	h := newHarness(t, Options{})

	first := h.dial(t)
	identify(t, first, testModule)

	second := h.dial(t)
	identify(t, second, testModule)

	f := readFrame(t, first)
	if f["type"] != FrameSuperseded {
		t.Fatalf("first connection got %v, want superseded", f)
	}
	if reason := readClose(t, first); reason != ReasonSuperseded {
		t.Errorf("close reason = %q, want %q", reason, ReasonSuperseded)
	}

	// Give the superseded read pump time to tear down.
	eventually(t, "one connection left", func() bool { return h.gw.ConnectionCount() == 1 })

	online, offline, _ := h.notifier.counts()
	if online != 1 || offline != 0 {
		t.Errorf("online=%d offline=%d, want exactly one online and no offline", online, offline)
	}
	if !h.tracker.IsOnline(testModule) {
		t.Error("module should stay online on the new connection")
	}
	sess, _ := h.tracker.Session(testModule)
	if sess.Conn.(*Conn).State() != StateAuthenticated {
		t.Error("current session should be the authenticated second connection")
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	h := newHarness(t, Options{PingInterval: 30 * time.Millisecond, PongTimeout: 60 * time.Millisecond})
	ws := h.dial(t)
	ws.SetPingHandler(func(string) error { return nil }) // swallow pings
	identify(t, ws, testModule)

	if reason := readClose(t, ws); reason != ReasonHeartbeatTimeout {
		t.Errorf("close reason = %q, want %q", reason, ReasonHeartbeatTimeout)
	}
	eventually(t, "module offline", func() bool { return !h.tracker.IsOnline(testModule) })
}

func TestHeartbeatFrameKeepsAlive(t *testing.T) {
	h := newHarness(t, Options{PingInterval: 30 * time.Millisecond, PongTimeout: 60 * time.Millisecond})
	ws := h.dial(t)
	ws.SetPingHandler(func(string) error { return nil })
	identify(t, ws, testModule)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if ws.WriteJSON(map[string]any{"type": FrameHeartbeat, "uptime": 1}) != nil {
					return
				}
			}
		}
	}()
	defer close(stop)

	// Reads drive the ping handler; no close should arrive.
	ws.SetReadDeadline(time.Now().Add(250 * time.Millisecond)) //nolint:errcheck // test
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		t.Fatalf("connection closed despite heartbeats: %q", ce.Text)
	}
	if !h.tracker.IsOnline(testModule) {
		t.Error("module should stay online while sending heartbeats")
	}
}

func TestHeartbeat_UpdatesLastTelemetry(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)
	identify(t, ws, testModule)

	writeJSON(t, ws, map[string]any{
		"type":     FrameHeartbeat,
		"moduleId": testModule,
		"password": testSecret,
		"uptime":   1200.0,
		"position": "right",
		"wifiRSSI": -58.0,
		"freeHeap": 180000.0,
	})

	eventually(t, "heartbeat fields stored", func() bool {
		snap, _ := h.tracker.Snapshot(testModule)
		return snap.LastTelemetry["position"] == "right"
	})
	snap, _ := h.tracker.Snapshot(testModule)
	if snap.LastTelemetry["wifiRSSI"] != -58.0 || snap.LastTelemetry["uptime"] != 1200.0 {
		t.Errorf("LastTelemetry = %v", snap.LastTelemetry)
	}
	if _, leaked := snap.LastTelemetry["password"]; leaked {
		t.Error("password leaked into telemetry")
	}
	if _, _, n := h.notifier.counts(); n != 0 {
		t.Errorf("heartbeat emitted %d telemetry events, want 0", n)
	}
}

func TestSendCommandAndAck(t *testing.T) {
	h := newHarness(t, Options{})
	acks := &ackRecorder{}
	h.gw.SetAckSink(acks)

	ws := h.dial(t)
	identify(t, ws, testModule)

	sess, ok := h.tracker.Session(testModule)
	if !ok {
		t.Fatal("no session")
	}
	conn := sess.Conn.(*Conn)
	if err := conn.SendCommand("switch_left", nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	f := readFrame(t, ws)
	raw, _ := json.Marshal(f)
	want := `{"data":{"command":"switch_left","params":{}},"type":"command"}`
	if string(raw) != want {
		t.Errorf("command frame = %s, want %s", raw, want)
	}

	writeJSON(t, ws, map[string]any{
		"type":     FrameCommandResponse,
		"moduleId": testModule,
		"password": testSecret,
		"command":  "switch_left",
		"status":   "success",
		"position": "left",
	})
	eventually(t, "command ack", func() bool { return acks.len() == 1 })
}

func TestSendCommand_QueueFull(t *testing.T) {
	gw := New(Options{SendBuffer: 1}, nil, nil, logging.Discard())
	c := newConn("conn-1", nil, gw)

	if err := c.SendCommand("get_position", nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("SendCommand() before identify error = %v, want ErrNotAuthenticated", err)
	}

	c.state.Store(int32(StateAuthenticated))
	if err := c.SendCommand("get_position", nil); err != nil {
		t.Fatalf("first SendCommand() error = %v", err)
	}
	if err := c.SendCommand("get_position", nil); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("second SendCommand() error = %v, want ErrSendQueueFull", err)
	}

	c.state.Store(int32(StateClosed))
	if err := c.SendCommand("get_position", nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SendCommand() after close error = %v, want ErrNotAuthenticated", err)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, Options{})
	ws := h.dial(t)
	identify(t, ws, testModule)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if reason := readClose(t, ws); reason != ReasonShutdown {
		t.Errorf("close reason = %q, want %q", reason, ReasonShutdown)
	}
}
