package gateway

import (
	"sync"
	"time"
)

// watchdog runs fire once when armed and not cancelled in time. A callback
// whose timer was cancelled or re-armed after it started is a no-op.
type watchdog struct {
	fire func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func newWatchdog(fire func()) *watchdog {
	return &watchdog{fire: fire}
}

// Arm (re)starts the watchdog with a fresh deadline.
func (w *watchdog) Arm(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armLocked(d)
}

// ArmIfIdle starts the watchdog unless it is already running, so repeated
// pings keep the deadline of the first unanswered one.
func (w *watchdog) ArmIfIdle(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.armLocked(d)
	}
}

func (w *watchdog) armLocked(d time.Duration) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.mu.Unlock()
		w.fire()
	})
}

// Cancel stops the watchdog. It is safe to call any number of times.
func (w *watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the watchdog is running.
func (w *watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}
