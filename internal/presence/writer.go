package presence

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
)

const (
	statusQueueSize    = 1024
	statusWriteTimeout = 5 * time.Second
)

type statusUpdate struct {
	deviceID string
	status   device.Status
}

// statusWriter applies status updates one at a time in arrival order.
type statusWriter struct {
	store  StatusStore
	logger *logging.Logger
	queue  chan statusUpdate

	stopOnce sync.Once
	done     chan struct{}
}

func newStatusWriter(store StatusStore, logger *logging.Logger) *statusWriter {
	w := &statusWriter{
		store:  store,
		logger: logger,
		queue:  make(chan statusUpdate, statusQueueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks; a full queue drops the update.
func (w *statusWriter) enqueue(deviceID string, status device.Status) {
	defer func() {
		recover() //nolint:errcheck // enqueue after stop
	}()

	select {
	case w.queue <- statusUpdate{deviceID: deviceID, status: status}:
	default:
		w.logger.Warn("status queue full, dropping update", "device_id", deviceID, "status", status)
	}
}

func (w *statusWriter) run() {
	defer close(w.done)
	for u := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
		if err := w.store.PersistStatus(ctx, u.deviceID, u.status); err != nil {
			w.logger.Warn("persisting device status failed",
				"device_id", u.deviceID,
				"status", u.status,
				"error", err,
			)
		}
		cancel()
	}
}

// stop drains the queue and waits for the writer to exit.
func (w *statusWriter) stop() {
	w.stopOnce.Do(func() { close(w.queue) })
	<-w.done
}
