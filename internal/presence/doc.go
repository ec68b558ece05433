// Package presence is the Device Presence Tracker.
//
// The Tracker holds the single live Session per module and the last known
// DeviceState (online flag, last seen, last telemetry, owner). It reports
// presence changes to a Notifier on edges only: a module that reconnects
// while still online produces no offline/online pair, and a disconnect of
// a connection that has already been superseded is ignored.
//
// # Locking
//
// State is split over 32 shards keyed by FNV-1a of the module ID, plus a
// connection index with its own RWMutex. Lock order is shard, then index.
// Notifier methods run while the module's shard lock is held, which gives
// every module a total event order. Notifiers must not block.
//
// # Persistence
//
// Status changes are queued to a single writer goroutine that calls the
// StatusStore in FIFO order. No lock is held during the write and failures
// are only logged.
package presence
