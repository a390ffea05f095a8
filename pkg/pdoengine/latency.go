package pdoengine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wujihand/wujihandgo/pkg/protocol"
)

// ErrControllerAttached and ErrLatencyTesterAttached enforce the mutual
// exclusion between a realtime controller and a latency tester sharing the
// same PDO channel (§4.6): only one of the two may drive outbound PDO
// frames at a time.
var ErrControllerAttached = errors.New("pdoengine: a realtime controller is attached, detach it first")
var ErrLatencyTesterAttached = errors.New("pdoengine: a latency tester is already attached")

// LatencyTester periodically probes the device's round trip time on the PDO
// channel (read_id=0xD0), independent of any realtime control session.
type LatencyTester struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	seq          uint32
	pendingSeq   uint32
	pendingSince time.Time
	awaiting     bool
	samples      []time.Duration
}

// AttachLatencyTester starts a latency probe loop at the given interval.
// Fails if a realtime controller or another latency tester is already
// attached.
func (e *Engine) AttachLatencyTester(interval time.Duration, logger *slog.Logger) (*LatencyTester, error) {
	if logger == nil {
		logger = e.logger
	}
	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return nil, ErrControllerAttached
	}
	if e.latencyTester != nil {
		e.mu.Unlock()
		return nil, ErrLatencyTesterAttached
	}
	t := &LatencyTester{engine: e, interval: interval, logger: logger, stop: make(chan struct{})}
	e.latencyTester = t
	e.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	return t, nil
}

// DetachLatencyTester halts the probe loop.
func (e *Engine) DetachLatencyTester(t *LatencyTester) {
	e.mu.Lock()
	if e.latencyTester != t {
		e.mu.Unlock()
		return
	}
	e.latencyTester = nil
	e.mu.Unlock()

	close(t.stop)
	t.wg.Wait()
}

func (t *LatencyTester) run() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.probe()
		}
	}
}

func (t *LatencyTester) probe() {
	t.mu.Lock()
	if t.awaiting {
		t.mu.Unlock()
		t.logger.Warn("latency probe still outstanding, skipping this tick")
		return
	}
	t.seq++
	seq := t.seq
	t.pendingSeq = seq
	t.pendingSince = time.Now()
	t.awaiting = true
	t.mu.Unlock()

	payload, ok := t.engine.builder.Allocate(protocol.PDOHeaderSize + protocol.LatencyTestSize)
	if !ok {
		return
	}
	protocol.PutLatencyTestRequest(payload, protocol.PDOReadIDLatencyTest, seq)
	if err := t.engine.builder.Finalize(); err != nil {
		t.logger.Error("pdo builder finalize failed", "error", err)
	}
}

func (t *LatencyTester) handleResponse(body []byte) {
	echoed, err := protocol.ReadLatencyTestResult(body)
	if err != nil {
		t.logger.Error("latency test response decode failed", "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.awaiting || echoed != t.pendingSeq {
		return
	}
	t.samples = append(t.samples, time.Since(t.pendingSince))
	t.awaiting = false
}

// Samples returns the round trip durations measured so far.
func (t *LatencyTester) Samples() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.samples))
	copy(out, t.samples)
	return out
}

// Average returns the mean round trip duration, or 0 if no sample landed yet.
func (t *LatencyTester) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range t.samples {
		total += s
	}
	return total / time.Duration(len(t.samples))
}
