// Package watchdog periodically refreshes the HOST_HEARTBEAT object so the
// firmware's own liveness timeout never trips while the host is alive.
// Adapted from the teacher's heartbeat consumer, reworked from consumer to
// producer role: this SDK is a single host talking to one device rather than
// a CANopen network of peers each producing and consuming heartbeats.
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wujihand/wujihandgo/pkg/storage"
)

// Writer is the subset of sdoengine.Engine the watchdog needs: an
// unchecked, fire-and-forget write.
type Writer interface {
	WriteAsyncUnchecked(unit *storage.Unit, data storage.Buffer8, timeout time.Duration, cb func(success bool))
}

// Watchdog refreshes unit's value at a fixed interval for as long as it is
// running.
type Watchdog struct {
	unit     *storage.Unit
	writer   Writer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool

	counter uint64
}

// New constructs a watchdog for unit, refreshed every interval. timeout
// bounds each individual refresh write.
func New(unit *storage.Unit, writer Writer, interval, timeout time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{unit: unit, writer: writer, interval: interval, timeout: timeout, logger: logger}
}

// Start launches the refresh goroutine. Calling Start twice is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()
}

// Stop halts the refresh goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watchdog) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *Watchdog) refresh() {
	w.counter++
	value := storage.Buffer8FromUint64(w.counter)
	w.writer.WriteAsyncUnchecked(w.unit, value, w.timeout, func(success bool) {
		if !success {
			w.logger.Warn("heartbeat refresh failed, firmware may not have acknowledged in time")
		}
	})
}
