package storage

import (
	"sync/atomic"
	"time"
)

// Mode is the kind of operation pending on a Unit.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeRead
	ModeWrite
)

// State is the progress of a pending operation.
type State uint8

const (
	StateSuccess State = iota
	StateWaiting
	StateReading
	StateWriting
	StateWritingConfirming
)

// Operation is the atomically-swapped {mode, state} pair, packed into a
// single uint32 so the tick thread and the caller thread can exchange it
// with one atomic store/load instead of a mutex.
type Operation struct {
	Mode  Mode
	State State
}

func packOperation(op Operation) uint32 {
	return uint32(op.Mode)<<8 | uint32(op.State)
}

func unpackOperation(v uint32) Operation {
	return Operation{Mode: Mode(v >> 8), State: State(v & 0xFF)}
}

// Unit is one addressable object's live state: its descriptor, cached raw
// value, version counter, and pending operation. The version counter starts
// at 0, meaning "never read"; it is bumped on every successful read
// completion, wrapping to 1 rather than back to 0.
type Unit struct {
	Descriptor Descriptor

	operation atomic.Uint32
	version   atomic.Uint32
	value     atomic.Uint64

	// timeout/timeoutPoint are read and written only by the caller thread
	// (before storing Operation with release semantics) and the SDO tick
	// thread (after loading Operation with acquire semantics); the
	// Operation exchange is what makes plain access to these fields safe,
	// the same way the reference implementation synchronizes its
	// (timeout, timeout_point) union purely through the operation's atomic
	// release/acquire pair.
	timeout      time.Duration
	timeoutPoint time.Time

	callback func(success bool)
}

// NewUnit constructs a Unit in the idle (NONE/SUCCESS) state.
func NewUnit(desc Descriptor) *Unit {
	u := &Unit{Descriptor: desc}
	u.operation.Store(packOperation(Operation{Mode: ModeNone, State: StateSuccess}))
	return u
}

// LoadOperation reads the current operation with acquire semantics.
func (u *Unit) LoadOperation() Operation { return unpackOperation(u.operation.Load()) }

// StoreOperation writes the operation with release semantics.
func (u *Unit) StoreOperation(op Operation) { u.operation.Store(packOperation(op)) }

// CompareAndSwapOperation atomically transitions the operation iff it is
// still old.
func (u *Unit) CompareAndSwapOperation(old, new_ Operation) bool {
	return u.operation.CompareAndSwap(packOperation(old), packOperation(new_))
}

// Version returns the current read-version counter; 0 means never read.
func (u *Unit) Version() uint32 { return u.version.Load() }

// bumpVersion increments the version, skipping the reserved 0 value on wrap.
func (u *Unit) bumpVersion() {
	v := u.version.Load() + 1
	if v == 0 {
		v = 1
	}
	u.version.Store(v)
}

// BumpVersion is the exported form used by sdoengine after caching a fresh
// wire value.
func (u *Unit) BumpVersion() { u.bumpVersion() }

// Get returns the cached value translated per the object's policy.
func (u *Unit) Get() Buffer8 { return LoadData(u) }

// RawValue returns the cached value's untranslated wire bytes.
func (u *Unit) RawValue() uint64 { return u.value.Load() }

// StoreRaw caches wire bytes directly, bypassing policy translation. Used
// by sdoengine to cache a value exactly as received from the device.
func (u *Unit) StoreRaw(v uint64) { u.value.Store(v) }

// Timeout/TimeoutPoint/SetTimeout/SetTimeoutPoint/SetCallback are used only
// by the owning handler and sdoengine packages, which coordinate access
// through the Operation state machine.
func (u *Unit) Timeout() time.Duration        { return u.timeout }
func (u *Unit) SetTimeout(d time.Duration)    { u.timeout = d }
func (u *Unit) TimeoutPoint() time.Time       { return u.timeoutPoint }
func (u *Unit) SetTimeoutPoint(t time.Time)   { u.timeoutPoint = t }
func (u *Unit) Callback() func(success bool)  { return u.callback }
func (u *Unit) SetCallback(cb func(bool))     { u.callback = cb }
