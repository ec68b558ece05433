package presence

import (
	"hash/fnv"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
)

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
	states   map[string]*DeviceState
}

type notifierHolder struct{ n Notifier }

// Tracker is the Device Presence Tracker. It is safe for concurrent use.
type Tracker struct {
	shards [shardCount]shard

	connMu sync.RWMutex
	byConn map[string]string // connection ID -> device ID

	notifier atomic.Value // notifierHolder
	writer   *statusWriter
	logger   *logging.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. A nil store disables status persistence.
func NewTracker(store StatusStore, logger *logging.Logger) *Tracker {
	t := &Tracker{
		byConn: make(map[string]string),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range t.shards {
		t.shards[i].sessions = make(map[string]*Session)
		t.shards[i].states = make(map[string]*DeviceState)
	}
	t.notifier.Store(notifierHolder{n: nopNotifier{}})
	if store != nil {
		t.writer = newStatusWriter(store, logger)
	}
	return t
}

// SetNotifier installs the event sink. Passing nil restores the no-op sink.
func (t *Tracker) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	t.notifier.Store(notifierHolder{n: n})
}

// Close flushes pending status writes.
func (t *Tracker) Close() {
	if t.writer != nil {
		t.writer.stop()
	}
}

func (t *Tracker) notify() Notifier {
	return t.notifier.Load().(notifierHolder).n //nolint:forcetypeassert // only notifierHolder is stored
}

func (t *Tracker) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // hash writes never fail
	return &t.shards[h.Sum32()%shardCount]
}

func (t *Tracker) persist(deviceID string, status device.Status) {
	if t.writer != nil {
		t.writer.enqueue(deviceID, status)
	}
}

// RegisterDevice installs conn as the live session for deviceID.
//
// A live session on a different connection is closed with reason
// "superseded" and replaced; the module stays online and no events are
// emitted for the swap. Registering the same connection again returns the
// existing session unchanged.
func (t *Tracker) RegisterDevice(deviceID, deviceType, ownerUserID string, conn Conn) *Session {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.sessions[deviceID]; ok {
		if existing.Conn.ID() == conn.ID() {
			return existing
		}
		t.connMu.Lock()
		delete(t.byConn, existing.Conn.ID())
		t.connMu.Unlock()
		existing.Conn.Close("superseded")
		t.logger.Info("device session superseded",
			"device_id", deviceID,
			"old_conn", existing.Conn.ID(),
			"new_conn", conn.ID(),
		)
	}

	now := t.now()
	sess := &Session{
		DeviceID:        deviceID,
		DeviceType:      deviceType,
		OwnerUserID:     ownerUserID,
		Conn:            conn,
		AuthenticatedAt: now,
	}
	sh.sessions[deviceID] = sess

	t.connMu.Lock()
	t.byConn[conn.ID()] = deviceID
	t.connMu.Unlock()

	st, ok := sh.states[deviceID]
	if !ok {
		st = &DeviceState{DeviceID: deviceID}
		sh.states[deviceID] = st
	}
	st.DeviceType = deviceType
	st.OwnerUserID = ownerUserID
	st.LastSeen = now

	if !st.Online {
		st.Online = true
		t.notify().DeviceOnline(*st)
		t.persist(deviceID, device.StatusOnline)
	}
	return sess
}

// UnregisterDevice removes the session owned by conn and marks the module
// offline. It returns nil, changing nothing, when conn is unknown or is no
// longer the module's current session.
func (t *Tracker) UnregisterDevice(conn Conn) *Session {
	t.connMu.RLock()
	deviceID, ok := t.byConn[conn.ID()]
	t.connMu.RUnlock()
	if !ok {
		return nil
	}

	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[deviceID]
	if !ok || sess.Conn.ID() != conn.ID() {
		return nil
	}
	delete(sh.sessions, deviceID)

	t.connMu.Lock()
	delete(t.byConn, conn.ID())
	t.connMu.Unlock()

	if st := sh.states[deviceID]; st != nil && st.Online {
		st.Online = false
		st.LastSeen = t.now()
		t.notify().DeviceOffline(*st)
		t.persist(deviceID, device.StatusOffline)
	}
	return sess
}

// RecordTelemetry stores a telemetry sample and emits it. Presence is
// driven by sessions only: a sample never flips a module online, so a
// module without a live session keeps online=false with its last sample.
func (t *Tracker) RecordTelemetry(deviceID string, sample map[string]any) DeviceState {
	sample = maps.Clone(sample)
	if sample == nil {
		sample = map[string]any{}
	}

	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.states[deviceID]
	if !ok {
		st = &DeviceState{DeviceID: deviceID}
		sh.states[deviceID] = st
	}
	st.LastSeen = t.now()
	st.LastTelemetry = sample

	t.notify().Telemetry(*st, sample)
	return *st
}

// RecordHeartbeat re-stamps a known module and merges the heartbeat's
// fields into its last telemetry. Nothing is emitted.
func (t *Tracker) RecordHeartbeat(deviceID string, fields map[string]any) {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.states[deviceID]
	if !ok {
		return
	}
	st.LastSeen = t.now()
	if len(fields) == 0 {
		return
	}
	merged := maps.Clone(st.LastTelemetry)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	st.LastTelemetry = merged
}

// Touch re-stamps the last-seen time of a known module without emitting.
func (t *Tracker) Touch(deviceID string) {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	if st, ok := sh.states[deviceID]; ok {
		st.LastSeen = t.now()
	}
	sh.mu.Unlock()
}

// Evict closes the live session of a module, if any, and clears its
// owner. It is used when a module is released. The offline edge is
// emitted while the owner is still set so the releasing user sees it. It
// reports whether a session was closed.
func (t *Tracker) Evict(deviceID, reason string) bool {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	sess, ok := sh.sessions[deviceID]
	if ok {
		delete(sh.sessions, deviceID)
		t.connMu.Lock()
		delete(t.byConn, sess.Conn.ID())
		t.connMu.Unlock()
	}
	if st := sh.states[deviceID]; st != nil {
		if ok && st.Online {
			st.Online = false
			st.LastSeen = t.now()
			t.notify().DeviceOffline(*st)
			t.persist(deviceID, device.StatusOffline)
		}
		st.OwnerUserID = ""
	}
	sh.mu.Unlock()

	if ok {
		sess.Conn.Close(reason)
	}
	return ok
}

// IsOnline reports whether the module currently has a live session.
func (t *Tracker) IsOnline(deviceID string) bool {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[deviceID]
	return ok && st.Online
}

// Session returns a copy of the live session of a module.
func (t *Tracker) Session(deviceID string) (Session, bool) {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[deviceID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Snapshot returns the last known state of a module.
func (t *Tracker) Snapshot(deviceID string) (DeviceState, bool) {
	sh := t.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[deviceID]
	if !ok {
		return DeviceState{}, false
	}
	return *st, true
}

// ListSnapshots returns every known module state ordered by ID.
func (t *Tracker) ListSnapshots() []DeviceState {
	var out []DeviceState
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for _, st := range sh.states {
			out = append(out, *st)
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b DeviceState) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return out
}

// Counts returns the number of online modules and of modules seen since start.
func (t *Tracker) Counts() (online, known int) {
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		known += len(sh.states)
		for _, st := range sh.states {
			if st.Online {
				online++
			}
		}
		sh.mu.Unlock()
	}
	return online, known
}
