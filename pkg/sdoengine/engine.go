// Package sdoengine drives the ~199Hz SDO request/response cycle: it walks
// the storage table once per tick, issues the next request for every unit
// with a pending operation, and answers raw out-of-band debug requests from
// the same builder and transport.
package sdoengine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wujihand/wujihandgo/pkg/protocol"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

// TickRate is the nominal SDO cycle frequency (§4.4).
const TickRate = 199

// ErrOperationInFlight is returned by the checked Read/Write variants when
// the unit already has a pending operation.
var ErrOperationInFlight = errors.New("sdoengine: operation already in flight for this unit")

// neverExpires stands in for the C++ time_point::max() sentinel used for a
// timeout that should never fire; Go's time.Time arithmetic has no overflow
// trap to guard against, so a concrete far-future instant is simplest.
var neverExpires = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// Engine owns the storage table, the raw SDO debug pool and the outbound
// frame builder for one SDO cycle.
type Engine struct {
	table   *storage.Table
	rawPool *storage.RawSDOPool
	builder *protocol.Builder
	logger  *slog.Logger

	period time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New constructs an Engine. builder must be a protocol.Builder configured
// with protocol.FrameTypeSDO.
func New(table *storage.Table, rawPool *storage.RawSDOPool, builder *protocol.Builder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		table:   table,
		rawPool: rawPool,
		builder: builder,
		logger:  logger,
		period:  time.Second / TickRate,
	}
}

// Start launches the tick goroutine. Calling Start twice is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop halts the tick goroutine and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick drains every storage unit once, then the raw SDO pool, then flushes
// whatever the builder accumulated this cycle (§4.4).
func (e *Engine) tick(now time.Time) {
	for _, unit := range e.table.Units() {
		e.tickUnit(unit, now)
	}
	e.rawPool.Tick(now, e.sendRawRead, e.sendRawWrite)
	if err := e.builder.Finalize(); err != nil {
		e.logger.Error("sdo builder finalize failed", "error", err)
	}
}

// tickUnit implements the numbered tick procedure (§4.4):
//  1. a NONE-mode unit is skipped entirely.
//  2. a MASKED unit's operation is forced to SUCCESS (it never transmits).
//  3. SUCCESS completes the operation and ends the unit's turn for this tick.
//  4. WAITING arms the deadline, advances to READING/WRITING and falls
//     through to send the unit's first request in the same tick.
//  5. otherwise, a deadline already past ends the operation as a failure.
//  6. READING or WRITING_CONFIRMING re-sends a read request.
//  7. WRITING advances to WRITING_CONFIRMING (so the next tick sends the
//     confirming read) and sends the write request. This transition happens
//     at send time, not when the device's write-ack arrives.
func (e *Engine) tickUnit(unit *storage.Unit, now time.Time) {
	op := unit.LoadOperation()
	if op.Mode == storage.ModeNone {
		return
	}

	if unit.Descriptor.Policy&storage.PolicyMasked != 0 {
		op.State = storage.StateSuccess
	}

	if op.State == storage.StateSuccess {
		e.completeUnit(unit, op, true)
		return
	}

	if op.State == storage.StateWaiting {
		e.armDeadline(unit, now)
		if op.Mode == storage.ModeRead {
			op.State = storage.StateReading
		} else {
			op.State = storage.StateWriting
		}
		unit.StoreOperation(op)
		// Fall through: send the unit's first request in this same tick.
	} else if !now.Before(unit.TimeoutPoint()) {
		e.completeUnit(unit, op, false)
		return
	}

	switch op.State {
	case storage.StateReading, storage.StateWritingConfirming:
		e.sendRead(unit.Descriptor.Index, unit.Descriptor.SubIndex)
	case storage.StateWriting:
		op.State = storage.StateWritingConfirming
		unit.StoreOperation(op)
		e.sendWrite(unit)
	}
}

// armDeadline computes the unit's timeout point from its configured timeout.
// A zero or negative timeout means "never expires".
func (e *Engine) armDeadline(unit *storage.Unit, now time.Time) {
	timeout := unit.Timeout()
	if timeout <= 0 {
		unit.SetTimeoutPoint(neverExpires)
		return
	}
	unit.SetTimeoutPoint(now.Add(timeout))
}

// completeUnit finishes a unit's operation: captures and clears the
// callback, resets the operation to idle, and invokes the callback outside
// any lock.
func (e *Engine) completeUnit(unit *storage.Unit, op storage.Operation, success bool) {
	cb := unit.Callback()
	unit.SetCallback(nil)
	op.Mode = storage.ModeNone
	op.State = storage.StateSuccess
	unit.StoreOperation(op)
	if cb != nil {
		cb(success)
	}
}

func (e *Engine) sendRead(index uint16, sub uint8) {
	payload, ok := e.builder.Allocate(protocol.SDOReadRequestSize())
	if !ok {
		return
	}
	protocol.PutSDOReadRequest(payload, index, sub)
}

func (e *Engine) sendWrite(unit *storage.Unit) {
	width := unit.Descriptor.Size.Width()
	payload, ok := e.builder.Allocate(protocol.SDOWriteRequestSize(width))
	if !ok {
		return
	}
	if err := protocol.PutSDOWriteRequest(payload, width, unit.Descriptor.Index, unit.Descriptor.SubIndex, unit.RawValue()); err != nil {
		e.logger.Error("sdo write request encode failed", "error", err, "index", unit.Descriptor.Index)
	}
}

func (e *Engine) sendRawRead(index uint16, sub uint8) {
	e.sendRead(index, sub)
}

func (e *Engine) sendRawWrite(index uint16, sub uint8, data []byte) {
	width := len(data)
	payload, ok := e.builder.Allocate(protocol.SDOWriteRequestSize(width))
	if !ok {
		return
	}
	var value uint64
	for i := width - 1; i >= 0; i-- {
		value = value<<8 | uint64(data[i])
	}
	if err := protocol.PutSDOWriteRequest(payload, width, index, sub, value); err != nil {
		e.logger.Error("raw sdo write request encode failed", "error", err, "index", index)
	}
}

// ReadAsyncUnchecked arms unit for a read regardless of any operation already
// in flight, overwriting it. cb is invoked from the tick goroutine once the
// read completes or times out.
func (e *Engine) ReadAsyncUnchecked(unit *storage.Unit, timeout time.Duration, cb func(success bool)) {
	unit.SetTimeout(timeout)
	unit.SetCallback(cb)
	unit.StoreOperation(storage.Operation{Mode: storage.ModeRead, State: storage.StateWaiting})
}

// ReadAsync arms unit for a read, failing with ErrOperationInFlight if one is
// already pending.
func (e *Engine) ReadAsync(unit *storage.Unit, timeout time.Duration, cb func(success bool)) error {
	idle := storage.Operation{Mode: storage.ModeNone, State: storage.StateSuccess}
	claimed := storage.Operation{Mode: storage.ModeNone, State: storage.StateWaiting}
	if !unit.CompareAndSwapOperation(idle, claimed) {
		return ErrOperationInFlight
	}
	unit.SetTimeout(timeout)
	unit.SetCallback(cb)
	unit.StoreOperation(storage.Operation{Mode: storage.ModeRead, State: storage.StateWaiting})
	return nil
}

// WriteAsyncUnchecked stores data (translated per the unit's policy) and
// arms unit for a write regardless of any operation already in flight.
func (e *Engine) WriteAsyncUnchecked(unit *storage.Unit, data storage.Buffer8, timeout time.Duration, cb func(success bool)) {
	storage.StoreData(unit, data)
	unit.SetTimeout(timeout)
	unit.SetCallback(cb)
	unit.StoreOperation(storage.Operation{Mode: storage.ModeWrite, State: storage.StateWaiting})
}

// WriteAsync stores data and arms unit for a write, failing with
// ErrOperationInFlight if one is already pending. The operation is claimed
// with a Mode-None placeholder (invisible to the tick thread, which skips
// any unit whose mode is still NONE) so the value is fully staged before
// WAITING is published with release; otherwise the tick thread could observe
// WAITING and transmit the unit's previous RawValue.
func (e *Engine) WriteAsync(unit *storage.Unit, data storage.Buffer8, timeout time.Duration, cb func(success bool)) error {
	idle := storage.Operation{Mode: storage.ModeNone, State: storage.StateSuccess}
	claimed := storage.Operation{Mode: storage.ModeNone, State: storage.StateWriting}
	if !unit.CompareAndSwapOperation(idle, claimed) {
		return ErrOperationInFlight
	}
	storage.StoreData(unit, data)
	unit.SetTimeout(timeout)
	unit.SetCallback(cb)
	unit.StoreOperation(storage.Operation{Mode: storage.ModeWrite, State: storage.StateWaiting})
	return nil
}

// RawRead issues an out-of-band read of an arbitrary (index, sub) pair not
// necessarily present in the storage table, for debug tooling.
func (e *Engine) RawRead(index uint16, sub uint8, timeout time.Duration) (*storage.RawSDOUnit, error) {
	return e.rawPool.StartRead(index, sub, timeout)
}

// RawWrite issues an out-of-band write of 1, 2, 4 or 8 raw bytes to an
// arbitrary (index, sub) pair.
func (e *Engine) RawWrite(index uint16, sub uint8, data []byte, timeout time.Duration) (*storage.RawSDOUnit, error) {
	return e.rawPool.StartWrite(index, sub, data, timeout)
}
