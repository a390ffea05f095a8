package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/objectmap"
	"github.com/wujihand/wujihandgo/pkg/pdoengine"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

// ErrUnknownObject is returned when name/finger/joint does not resolve to a
// registered object-map entry.
var ErrUnknownObject = errors.New("handler: unknown object")

func (h *Handler) lookup(name string, finger, joint int) (*storage.Unit, error) {
	unit, ok := h.units[objectmap.Key{Name: name, Finger: finger, Joint: joint}]
	if !ok {
		return nil, fmt.Errorf("%w: %s finger=%d joint=%d", ErrUnknownObject, name, finger, joint)
	}
	return unit, nil
}

// ReadAsync issues a non-blocking read of a joint-scoped object, invoking cb
// exactly once with whether the firmware confirmed the value.
func (h *Handler) ReadAsync(name string, finger, joint int, timeout time.Duration, cb func(success bool)) error {
	if err := h.checkThread(); err != nil {
		return err
	}
	unit, err := h.lookup(name, finger, joint)
	if err != nil {
		return err
	}
	return h.sdo.ReadAsync(unit, timeout, cb)
}

// Read blocks until a read of a joint-scoped object completes or timeout
// elapses, returning the confirmed value translated per the object's policy.
func (h *Handler) Read(name string, finger, joint int, timeout time.Duration) (storage.Buffer8, error) {
	if err := h.checkThread(); err != nil {
		return storage.Buffer8{}, err
	}
	unit, err := h.lookup(name, finger, joint)
	if err != nil {
		return storage.Buffer8{}, err
	}
	completer, result := latch.NewFutureCompleter()
	if err := h.sdo.ReadAsync(unit, timeout, func(success bool) { completer.Complete(success) }); err != nil {
		return storage.Buffer8{}, err
	}
	if !<-result {
		return storage.Buffer8{}, fmt.Errorf("handler: read %s finger=%d joint=%d timed out", name, finger, joint)
	}
	return unit.Get(), nil
}

// WriteAsync issues a non-blocking write-with-verify of a joint-scoped
// object, invoking cb exactly once with whether the firmware confirmed the
// write (§4.4's write-verify sequence).
func (h *Handler) WriteAsync(name string, finger, joint int, data storage.Buffer8, timeout time.Duration, cb func(success bool)) error {
	if err := h.checkThread(); err != nil {
		return err
	}
	unit, err := h.lookup(name, finger, joint)
	if err != nil {
		return err
	}
	return h.sdo.WriteAsync(unit, data, timeout, cb)
}

// Write blocks until a write-with-verify completes or timeout elapses.
func (h *Handler) Write(name string, finger, joint int, data storage.Buffer8, timeout time.Duration) error {
	if err := h.checkThread(); err != nil {
		return err
	}
	unit, err := h.lookup(name, finger, joint)
	if err != nil {
		return err
	}
	completer, result := latch.NewFutureCompleter()
	if err := h.sdo.WriteAsync(unit, data, timeout, func(success bool) { completer.Complete(success) }); err != nil {
		return err
	}
	if !<-result {
		return fmt.Errorf("handler: write %s finger=%d joint=%d timed out", name, finger, joint)
	}
	return nil
}

// RawSDORead issues an out-of-band read of an arbitrary (index, sub) pair,
// blocking for the result. Bypasses the registered object table; intended
// for debug tooling (§4.5).
func (h *Handler) RawSDORead(index uint16, sub uint8, timeout time.Duration) ([]byte, error) {
	if err := h.checkThread(); err != nil {
		return nil, err
	}
	unit, err := h.sdo.RawRead(index, sub, timeout)
	if err != nil {
		return nil, err
	}
	data, err := unit.Wait()
	if err != nil {
		return nil, fmt.Errorf("handler: raw sdo read 0x%04X:%d: %w", index, sub, err)
	}
	return data, nil
}

// RawSDOWrite issues an out-of-band write of 1, 2, 4 or 8 bytes to an
// arbitrary (index, sub) pair, blocking for confirmation.
func (h *Handler) RawSDOWrite(index uint16, sub uint8, data []byte, timeout time.Duration) error {
	if err := h.checkThread(); err != nil {
		return err
	}
	unit, err := h.sdo.RawWrite(index, sub, data, timeout)
	if err != nil {
		return err
	}
	if _, err := unit.Wait(); err != nil {
		return fmt.Errorf("handler: raw sdo write 0x%04X:%d: %w", index, sub, err)
	}
	return nil
}

// AttachRealtimeController starts the cyclic PDO control loop with the given
// controller, which must not already have one attached (§4.6).
func (h *Handler) AttachRealtimeController(controller pdoengine.RealtimeController, upstreamEnabled bool) error {
	if err := h.checkThread(); err != nil {
		return err
	}
	return h.pdo.AttachRealtimeController(controller, upstreamEnabled)
}

// DetachRealtimeController stops the cyclic PDO control loop and returns
// every joint to idle.
func (h *Handler) DetachRealtimeController() error {
	if err := h.checkThread(); err != nil {
		return err
	}
	return h.pdo.DetachRealtimeController()
}

// AttachLatencyTester starts the round-trip latency probe, mutually
// exclusive with a realtime controller.
func (h *Handler) AttachLatencyTester(interval time.Duration) (*pdoengine.LatencyTester, error) {
	if err := h.checkThread(); err != nil {
		return nil, err
	}
	return h.pdo.AttachLatencyTester(interval, h.logger)
}

// DetachLatencyTester stops a previously attached latency probe.
func (h *Handler) DetachLatencyTester(t *pdoengine.LatencyTester) {
	h.pdo.DetachLatencyTester(t)
}

// RealtimeGetJointPosition returns the most recently received actual
// position, in radians, for one joint.
func (h *Handler) RealtimeGetJointPosition(finger, joint int) float64 {
	return h.pdo.PositionRadians(finger, joint)
}

// RealtimeGetJointActualEffort returns the most recently received actual
// motor current, in amperes, for one joint (§6 supplement).
func (h *Handler) RealtimeGetJointActualEffort(finger, joint int) float64 {
	return h.pdo.EffortAmps(finger, joint)
}

// RealtimeGetJointErrorCode returns the most recently received fault
// bitmask for one joint.
func (h *Handler) RealtimeGetJointErrorCode(finger, joint int) uint32 {
	return h.pdo.ErrorCode(finger, joint)
}
