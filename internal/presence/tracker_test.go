package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	reasons []string
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func (c *fakeConn) closedWith() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reasons...)
}

type recorded struct {
	kind     string
	deviceID string
	owner    string
	online   bool
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recorded
}

func (n *recordingNotifier) add(kind string, st DeviceState) {
	n.mu.Lock()
	n.events = append(n.events, recorded{kind: kind, deviceID: st.DeviceID, owner: st.OwnerUserID, online: st.Online})
	n.mu.Unlock()
}

func (n *recordingNotifier) DeviceOnline(st DeviceState)  { n.add("online", st) }
func (n *recordingNotifier) DeviceOffline(st DeviceState) { n.add("offline", st) }
func (n *recordingNotifier) Telemetry(st DeviceState, _ map[string]any) {
	n.add("telemetry", st)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.kind
	}
	return out
}

func (n *recordingNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

type memStore struct {
	mu      sync.Mutex
	history []string
	fail    bool
}

func (s *memStore) PersistStatus(_ context.Context, id string, status device.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, id+"="+string(status))
	if s.fail {
		return errors.New("disk on fire")
	}
	return nil
}

func (s *memStore) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func newTestTracker(t *testing.T, store StatusStore) (*Tracker, *recordingNotifier) {
	t.Helper()
	tr := NewTracker(store, logging.Discard())
	n := &recordingNotifier{}
	tr.SetNotifier(n)
	t.Cleanup(tr.Close)
	return tr, n
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegisterUnregister_EdgeTriggered(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	c := newConn("c1")

	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c)
	if !tr.IsOnline("MC-0001-ST") {
		t.Fatal("IsOnline() = false after register")
	}

	if got := tr.UnregisterDevice(c); got == nil {
		t.Fatal("UnregisterDevice() = nil for current session")
	}
	if tr.IsOnline("MC-0001-ST") {
		t.Error("IsOnline() = true after unregister")
	}
	if tr.UnregisterDevice(c) != nil {
		t.Error("second UnregisterDevice() should be a no-op")
	}

	want := []string{"online", "offline"}
	if got := n.kinds(); !equalStrings(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRegister_SameConnIdempotent(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	c := newConn("c1")

	first := tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c)
	second := tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c)

	if first != second {
		t.Error("re-registering the same connection should return the same session")
	}
	if n.count("online") != 1 {
		t.Errorf("online events = %d, want 1", n.count("online"))
	}
	if len(c.closedWith()) != 0 {
		t.Error("idempotent register must not close the connection")
	}
}

func TestRegister_SupersedesOlderConnection(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	oldConn := newConn("old")
	replacement := newConn("new")

	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", oldConn)
	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", replacement)

	if got := oldConn.closedWith(); !equalStrings(got, []string{"superseded"}) {
		t.Errorf("old conn closed with %v, want [superseded]", got)
	}

	sess, ok := tr.Session("MC-0001-ST")
	if !ok || sess.Conn.ID() != "new" {
		t.Fatalf("Session() = %+v, %v; want new conn", sess, ok)
	}

	// Late disconnect of the superseded connection is ignored.
	if tr.UnregisterDevice(oldConn) != nil {
		t.Error("stale UnregisterDevice() should return nil")
	}
	if !tr.IsOnline("MC-0001-ST") {
		t.Error("stale disconnect must not flip the module offline")
	}

	if got := n.kinds(); !equalStrings(got, []string{"online"}) {
		t.Errorf("events = %v, want exactly one online", got)
	}
}

func TestAtMostOneSessionUnderConcurrency(t *testing.T) {
	tr, n := newTestTracker(t, nil)

	const workers = 50
	conns := make([]*fakeConn, workers)
	var wg sync.WaitGroup
	for i := range workers {
		conns[i] = newConn(fmt.Sprintf("c%d", i))
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c)
		}(conns[i])
	}
	wg.Wait()

	sess, ok := tr.Session("MC-0001-ST")
	if !ok {
		t.Fatal("no session after concurrent registration")
	}

	open := 0
	for _, c := range conns {
		if len(c.closedWith()) == 0 {
			open++
			if c.ID() != sess.Conn.ID() {
				t.Errorf("conn %s left open but is not the session", c.ID())
			}
		}
	}
	if open != 1 {
		t.Errorf("%d connections left open, want 1", open)
	}
	if n.count("online") != 1 {
		t.Errorf("online events = %d, want 1", n.count("online"))
	}

	tr.connMu.RLock()
	indexed := len(tr.byConn)
	tr.connMu.RUnlock()
	if indexed != 1 {
		t.Errorf("connection index has %d entries, want 1", indexed)
	}
}

func TestRecordTelemetry(t *testing.T) {
	t.Run("no clients and no session", func(t *testing.T) {
		tr, n := newTestTracker(t, nil)

		st := tr.RecordTelemetry("MC-0001-LFX", map[string]any{"brightness": 80.0})
		if st.Online {
			t.Error("telemetry without a session must not mark online")
		}
		if got := n.kinds(); !equalStrings(got, []string{"telemetry"}) {
			t.Errorf("events = %v, want [telemetry]", got)
		}
		snap, ok := tr.Snapshot("MC-0001-LFX")
		if !ok || snap.LastTelemetry["brightness"] != 80.0 {
			t.Errorf("Snapshot() = %+v, %v", snap, ok)
		}
	})

	t.Run("sample is copied", func(t *testing.T) {
		tr, _ := newTestTracker(t, nil)
		sample := map[string]any{"position": 1.0}
		tr.RecordTelemetry("MC-0001-LT", sample)
		sample["position"] = 2.0

		snap, _ := tr.Snapshot("MC-0001-LT")
		if snap.LastTelemetry["position"] != 1.0 {
			t.Error("caller mutation leaked into stored telemetry")
		}
	})
}

func TestTouch(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr.now = func() time.Time { return now }

	tr.RegisterDevice("MC-0001-AP", "audio-player", "alice", newConn("c1"))
	now = base.Add(time.Minute)
	tr.Touch("MC-0001-AP")
	tr.Touch("MC-0404-AP")

	snap, _ := tr.Snapshot("MC-0001-AP")
	if !snap.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", snap.LastSeen, now)
	}
	if _, ok := tr.Snapshot("MC-0404-AP"); ok {
		t.Error("Touch() must not create state for unknown modules")
	}
	if len(n.kinds()) != 1 {
		t.Errorf("Touch() emitted events: %v", n.kinds())
	}
}

func TestEvict(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	c := newConn("c1")
	tr.RegisterDevice("MC-0001-SM", "smoke-machine", "alice", c)

	if !tr.Evict("MC-0001-SM", "released") {
		t.Fatal("Evict() = false for live module")
	}
	if got := c.closedWith(); !equalStrings(got, []string{"released"}) {
		t.Errorf("closed with %v, want [released]", got)
	}
	snap, _ := tr.Snapshot("MC-0001-SM")
	if snap.OwnerUserID != "" {
		t.Errorf("OwnerUserID = %q, want cleared", snap.OwnerUserID)
	}
	if snap.Online {
		t.Error("evicted module should be offline")
	}

	n.mu.Lock()
	last := n.events[len(n.events)-1]
	n.mu.Unlock()
	if last.kind != "offline" || last.owner != "alice" {
		t.Errorf("last event = %+v, want offline for owner alice", last)
	}

	// The closing connection's own disconnect is stale by now.
	if tr.UnregisterDevice(c) != nil {
		t.Error("UnregisterDevice() after Evict should be a no-op")
	}
	if got := n.count("offline"); got != 1 {
		t.Errorf("offline events = %d, want 1", got)
	}
	if tr.Evict("MC-0404-SM", "released") {
		t.Error("Evict() = true for unknown module")
	}
}

func TestListSnapshotsAndCounts(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	tr.RegisterDevice("MC-0002-ST", "switch-track", "alice", newConn("a"))
	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", newConn("b"))
	c := newConn("c")
	tr.RegisterDevice("MC-0003-ST", "switch-track", "bob", c)
	tr.UnregisterDevice(c)

	snaps := tr.ListSnapshots()
	if len(snaps) != 3 {
		t.Fatalf("ListSnapshots() returned %d, want 3", len(snaps))
	}
	for i, id := range []string{"MC-0001-ST", "MC-0002-ST", "MC-0003-ST"} {
		if snaps[i].DeviceID != id {
			t.Errorf("snaps[%d] = %s, want %s", i, snaps[i].DeviceID, id)
		}
	}

	online, known := tr.Counts()
	if online != 2 || known != 3 {
		t.Errorf("Counts() = %d, %d; want 2, 3", online, known)
	}
}

func TestStatusPersistenceOrder(t *testing.T) {
	store := &memStore{fail: true}
	tr := NewTracker(store, logging.Discard())
	c1, c2 := newConn("c1"), newConn("c2")

	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c1)
	tr.UnregisterDevice(c1)
	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", c2)
	tr.Close()

	want := []string{"MC-0001-ST=online", "MC-0001-ST=offline", "MC-0001-ST=online"}
	if got := store.entries(); !equalStrings(got, want) {
		t.Errorf("persisted %v, want %v", got, want)
	}
}

func TestRecordHeartbeat(t *testing.T) {
	tr, n := newTestTracker(t, nil)
	tr.RegisterDevice("MC-0001-ST", "switch-track", "alice", newConn("c1"))
	tr.RecordTelemetry("MC-0001-ST", map[string]any{"position": "left", "status": "operational"})
	before := len(n.kinds())

	tr.RecordHeartbeat("MC-0001-ST", map[string]any{"position": "right", "wifiRSSI": -61.0})
	tr.RecordHeartbeat("MC-0404-ST", map[string]any{"position": "right"})

	snap, _ := tr.Snapshot("MC-0001-ST")
	want := map[string]any{"position": "right", "status": "operational", "wifiRSSI": -61.0}
	for k, v := range want {
		if snap.LastTelemetry[k] != v {
			t.Errorf("LastTelemetry[%s] = %v, want %v", k, snap.LastTelemetry[k], v)
		}
	}
	if _, ok := tr.Snapshot("MC-0404-ST"); ok {
		t.Error("RecordHeartbeat() must not create state for unknown modules")
	}
	if got := len(n.kinds()); got != before {
		t.Errorf("RecordHeartbeat() emitted %d events", got-before)
	}
}
