package pdoengine

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wujihand/wujihandgo/pkg/faultlog"
	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/protocol"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

// TickRate is the nominal realtime PDO loop frequency (§4.6).
const TickRate = 500

// sdoWriteTimeout bounds each individual startup/stop SDO write.
const sdoWriteTimeout = 500 * time.Millisecond

// ErrAlreadyAttached is returned by AttachRealtimeController when a
// controller is already running.
var ErrAlreadyAttached = errors.New("pdoengine: a realtime controller is already attached")

// ErrNotAttached is returned by DetachRealtimeController when none is running.
var ErrNotAttached = errors.New("pdoengine: no realtime controller is attached")

// SDOWriter is the subset of sdoengine.Engine the startup/stop sequence
// needs to reconfigure joints before and after a realtime session.
type SDOWriter interface {
	WriteAsync(unit *storage.Unit, data storage.Buffer8, timeout time.Duration, cb func(success bool)) error
}

// Engine owns the PDO frame builder, the per-joint lock-free snapshot
// arrays, and the realtime control loop's lifecycle.
type Engine struct {
	sdo     SDOWriter
	joints  Joints
	builder *protocol.Builder
	logger  *slog.Logger

	reversed [5][4]bool
	monitors [5][4]*faultlog.Monitor

	positions  [5][4]atomic.Int32
	effortsIq  [5][4]atomic.Uint32
	errorCodes [5][4]atomic.Uint32
	rxVersion  atomic.Uint64

	mu              sync.Mutex
	controller      RealtimeController
	upstreamEnabled bool
	attached        bool
	stop            chan struct{}
	wg              sync.WaitGroup
	latencyTester   *LatencyTester

	seq uint32
}

// New constructs an Engine. builder must be a protocol.Builder configured
// with protocol.FrameTypePDO.
func New(joints Joints, sdo SDOWriter, builder *protocol.Builder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{sdo: sdo, joints: joints, builder: builder, logger: logger, reversed: reversedMask()}
	for finger := range e.monitors {
		for joint := range e.monitors[finger] {
			e.monitors[finger][joint] = faultlog.NewMonitor(faultlog.JointID{Finger: finger, Joint: joint}, logger)
		}
	}
	return e
}

// AttachRealtimeController runs the startup sequence (§4.6) — snapshot and
// force-disable every joint, switch them into realtime control mode and
// start their PDO channels, then re-enable whichever joints were enabled
// before — and launches the 500Hz loop driving controller. upstreamEnabled
// selects whether the device reports actual positions back (true: TPdoID is
// set to 1, the loop sends bare read requests until the first TPDO arrives
// and then sets read_id 0x01 on every target frame) or not (false: TPdoID is
// 0, read_id stays 0 and the loop only writes targets).
func (e *Engine) AttachRealtimeController(controller RealtimeController, upstreamEnabled bool) error {
	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return ErrAlreadyAttached
	}
	if e.latencyTester != nil {
		e.mu.Unlock()
		return ErrLatencyTesterAttached
	}
	e.mu.Unlock()

	previouslyEnabled := e.snapshotEnabled()
	if err := e.writeAllJoints(func(j JointUnits) (*storage.Unit, storage.Buffer8) {
		return j.Enabled, storage.Buffer8FromBool(false)
	}); err != nil {
		return err
	}
	if err := e.configurePdoChannels(upstreamEnabled); err != nil {
		return err
	}
	if err := e.restoreEnabled(previouslyEnabled); err != nil {
		return err
	}

	controller.Setup(TickRate)

	e.mu.Lock()
	e.controller = controller
	e.upstreamEnabled = upstreamEnabled
	e.attached = true
	e.stop = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
	return nil
}

// DetachRealtimeController halts the loop and runs the stop sequence:
// disable every joint, drop the PDO channel and control mode back to idle,
// then restore whichever joints were enabled immediately before detaching.
func (e *Engine) DetachRealtimeController() error {
	e.mu.Lock()
	if !e.attached {
		e.mu.Unlock()
		return ErrNotAttached
	}
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()

	previouslyEnabled := e.snapshotEnabled()
	if err := e.writeAllJoints(func(j JointUnits) (*storage.Unit, storage.Buffer8) {
		return j.Enabled, storage.Buffer8FromBool(false)
	}); err != nil {
		return err
	}
	if err := e.writeAllJoints(func(j JointUnits) (*storage.Unit, storage.Buffer8) {
		return j.PdoEnabled, storage.Buffer8FromBool(false)
	}); err != nil {
		return err
	}
	if err := e.writeAllJoints(func(j JointUnits) (*storage.Unit, storage.Buffer8) {
		return j.ControlMode, storage.Buffer8FromUint64(uint64(controlModeIdle))
	}); err != nil {
		return err
	}
	if err := e.restoreEnabled(previouslyEnabled); err != nil {
		return err
	}

	e.mu.Lock()
	e.controller = nil
	e.attached = false
	e.mu.Unlock()
	return nil
}

// configurePdoChannels writes ControlMode, RPdoID, TPdoID, PdoInterval and
// PdoEnabled for every joint (§4.6 step 3).
func (e *Engine) configurePdoChannels(upstreamEnabled bool) error {
	tpdoID := uint64(0)
	if upstreamEnabled {
		tpdoID = 1
	}
	steps := []func(JointUnits) (*storage.Unit, storage.Buffer8){
		func(j JointUnits) (*storage.Unit, storage.Buffer8) {
			return j.ControlMode, storage.Buffer8FromUint64(uint64(controlModeRealtime))
		},
		func(j JointUnits) (*storage.Unit, storage.Buffer8) {
			return j.RPdoID, storage.Buffer8FromUint64(1)
		},
		func(j JointUnits) (*storage.Unit, storage.Buffer8) {
			return j.TPdoID, storage.Buffer8FromUint64(tpdoID)
		},
		func(j JointUnits) (*storage.Unit, storage.Buffer8) {
			return j.PdoInterval, storage.Buffer8FromUint64(uint64(pdoIntervalMicros))
		},
		func(j JointUnits) (*storage.Unit, storage.Buffer8) {
			return j.PdoEnabled, storage.Buffer8FromBool(true)
		},
	}
	for _, step := range steps {
		if err := e.writeAllJoints(step); err != nil {
			return err
		}
	}
	return nil
}

// snapshotEnabled reads every joint's current Enabled value so it can be
// restored after the realtime session.
func (e *Engine) snapshotEnabled() (enabled [5][4]bool) {
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			unit := e.joints[finger][joint].Enabled
			enabled[finger][joint] = unit.Get().Bool()
		}
	}
	return enabled
}

func (e *Engine) restoreEnabled(enabled [5][4]bool) error {
	l := latch.New(0)
	var writeErr error
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			if !enabled[finger][joint] {
				continue
			}
			unit := e.joints[finger][joint].Enabled
			l.CountUp()
			if err := e.sdo.WriteAsync(unit, storage.Buffer8FromBool(true), sdoWriteTimeout, func(success bool) {
				if !success {
					writeErr = errors.New("pdoengine: joint re-enable write failed")
				}
				l.CountDown()
			}); err != nil {
				l.CountDown()
				writeErr = err
			}
		}
	}
	l.Wait()
	return writeErr
}

// writeAllJoints issues select(joint)'s write to every one of the 20 joints
// and blocks until every one completes.
func (e *Engine) writeAllJoints(selectWrite func(JointUnits) (*storage.Unit, storage.Buffer8)) error {
	l := latch.New(numFingers * numJoints)
	var writeErr error
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			unit, value := selectWrite(e.joints[finger][joint])
			if err := e.sdo.WriteAsync(unit, value, sdoWriteTimeout, func(success bool) {
				if !success {
					writeErr = errors.New("pdoengine: joint configuration write failed")
				}
				l.CountDown()
			}); err != nil {
				l.CountDown()
				writeErr = err
			}
		}
	}
	l.Wait()
	return writeErr
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second / TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick implements the realtime loop body (§4.6): while upstream mode has
// not yet delivered a first frame, it sends a bare read request and waits;
// once fresh data is available (or at once when upstream is disabled) it snaps
// the current positions, steps the controller, and writes the resulting
// targets back out.
func (e *Engine) tick() {
	e.mu.Lock()
	controller := e.controller
	upstream := e.upstreamEnabled
	e.mu.Unlock()
	if controller == nil {
		return
	}

	if upstream && e.rxVersion.Load() == 0 {
		if payload, ok := e.builder.Allocate(protocol.PDOReadRequestSize); ok {
			protocol.PutPDOReadRequest(payload)
		}
		if err := e.builder.Finalize(); err != nil {
			e.logger.Error("pdo builder finalize failed", "error", err)
		}
		return
	}

	var actual Positions
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			raw := e.positions[finger][joint].Load()
			angle := storage.ExtractRawPosition(raw)
			if e.reversed[finger][joint] {
				angle = -angle
			}
			actual[finger][joint] = angle
		}
	}

	targets := controller.Step(&actual)

	var rawTargets [5][4]int32
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			raw := storage.ToRawPosition(targets[finger][joint])
			if e.reversed[finger][joint] {
				raw = -raw
			}
			rawTargets[finger][joint] = raw
		}
	}

	e.seq++
	readID := uint8(0x00)
	if upstream {
		readID = protocol.PDOReadIDPositionsOnly
	}
	if payload, ok := e.builder.Allocate(protocol.PDOWritePayloadSize); ok {
		protocol.PutPDOWriteRequest(payload, readID, rawTargets, e.seq)
	}
	if err := e.builder.Finalize(); err != nil {
		e.logger.Error("pdo builder finalize failed", "error", err)
	}
}

// PositionRadians returns the last reported position for one joint, in
// radians, sign-corrected for mounting orientation.
func (e *Engine) PositionRadians(finger, joint int) float64 {
	raw := e.positions[finger][joint].Load()
	angle := storage.ExtractRawPosition(raw)
	if e.reversed[finger][joint] {
		angle = -angle
	}
	return angle
}

// EffortAmps returns the last reported quadrature-axis current for one
// joint, in amperes — the supplemented get_joint_actual_effort() surface.
func (e *Engine) EffortAmps(finger, joint int) float64 {
	bits := e.effortsIq[finger][joint].Load()
	return float64(math.Float32frombits(bits))
}

// ErrorCode returns the last reported per-joint fault bitmask.
func (e *Engine) ErrorCode(finger, joint int) uint32 {
	return e.errorCodes[finger][joint].Load()
}
