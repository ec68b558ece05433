package events

import (
	"sync"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/hub"
)

// StatsSnapshot is the payload of the stats event.
type StatsSnapshot struct {
	Clients        hub.Stats `json:"clients"`
	ModulesOnline  int       `json:"modules_online"`
	ModulesOffline int       `json:"modules_offline"`
	ModulesKnown   int       `json:"modules_known"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// debouncer collapses bursts of triggers into one call of fire. The first
// trigger arms a timer; triggers while armed are absorbed.
type debouncer struct {
	window time.Duration
	fire   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fire func()) *debouncer {
	return &debouncer{window: window, fire: fire}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.window, d.run)
}

func (d *debouncer) run() {
	d.mu.Lock()
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if !stopped {
		d.fire()
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
