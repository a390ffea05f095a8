package storage

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// RawSlotCount is the number of concurrent out-of-band raw SDO operations
// supported, independent of the registered object table. Used for ad-hoc
// debug access to arbitrary (index, sub_index) pairs.
const RawSlotCount = 4

// ErrNoRawSlot is returned when all raw SDO slots are already in use.
var ErrNoRawSlot = errors.New("storage: no available raw SDO slot, too many concurrent operations")

// ErrRawSDOTimeout is returned by Wait when the firmware never answered.
var ErrRawSDOTimeout = errors.New("storage: raw SDO operation timed out")

type rawMode uint8

const (
	rawModeNone rawMode = iota
	rawModeRead
	rawModeWrite
)

type rawState uint8

const (
	rawStateIdle rawState = iota
	rawStatePending
	rawStateReading
	rawStateWriting
	rawStateSuccess
	rawStateFailed
)

// RawSDOUnit is one slot of the raw SDO debug pool.
type RawSDOUnit struct {
	mu     sync.Mutex
	inUse  atomic.Bool
	index  uint16
	sub    uint8
	mode   rawMode
	state  rawState
	result []byte

	writeData     [8]byte
	writeDataSize int

	timeoutPoint time.Time
	done         chan struct{}
}

// RawSDOPool is the fixed pool of raw SDO slots.
type RawSDOPool struct {
	units [RawSlotCount]RawSDOUnit
}

// NewRawSDOPool constructs an idle pool.
func NewRawSDOPool() *RawSDOPool { return &RawSDOPool{} }

func (p *RawSDOPool) claim() *RawSDOUnit {
	for i := range p.units {
		u := &p.units[i]
		if u.inUse.CompareAndSwap(false, true) {
			return u
		}
	}
	return nil
}

// StartRead claims a slot and arms it to issue a read for (index, sub) on
// the next tick, returning the slot to Wait on.
func (p *RawSDOPool) StartRead(index uint16, sub uint8, timeout time.Duration) (*RawSDOUnit, error) {
	unit := p.claim()
	if unit == nil {
		return nil, ErrNoRawSlot
	}
	unit.mu.Lock()
	unit.index, unit.sub = index, sub
	unit.mode = rawModeRead
	unit.state = rawStatePending
	unit.result = nil
	unit.timeoutPoint = time.Now().Add(timeout)
	unit.done = make(chan struct{})
	unit.mu.Unlock()
	return unit, nil
}

// StartWrite claims a slot and arms it to issue a write of data (1, 2, 4 or
// 8 bytes, little-endian) to (index, sub) on the next tick.
func (p *RawSDOPool) StartWrite(index uint16, sub uint8, data []byte, timeout time.Duration) (*RawSDOUnit, error) {
	switch len(data) {
	case 1, 2, 4, 8:
	default:
		return nil, errors.New("storage: raw SDO write data must be 1, 2, 4 or 8 bytes")
	}
	unit := p.claim()
	if unit == nil {
		return nil, ErrNoRawSlot
	}
	unit.mu.Lock()
	unit.index, unit.sub = index, sub
	unit.mode = rawModeWrite
	unit.state = rawStatePending
	unit.writeDataSize = copy(unit.writeData[:], data)
	unit.timeoutPoint = time.Now().Add(timeout)
	unit.done = make(chan struct{})
	unit.mu.Unlock()
	return unit, nil
}

// Wait blocks until the slot's operation completes or times out, then
// returns the slot to the pool. For a read, result holds the raw response
// bytes.
func (u *RawSDOUnit) Wait() (result []byte, err error) {
	<-u.done

	u.mu.Lock()
	state := u.state
	result = u.result
	u.state = rawStateIdle
	u.mode = rawModeNone
	u.mu.Unlock()
	u.inUse.Store(false)

	if state == rawStateFailed {
		return nil, ErrRawSDOTimeout
	}
	return result, nil
}

// Tick advances every in-use slot by one SDO cycle: failing timed-out
// operations and issuing the pending read/write request exactly once.
func (p *RawSDOPool) Tick(now time.Time, sendRead func(index uint16, sub uint8), sendWrite func(index uint16, sub uint8, data []byte)) {
	for i := range p.units {
		u := &p.units[i]
		if !u.inUse.Load() {
			continue
		}

		u.mu.Lock()
		switch u.state {
		case rawStatePending, rawStateReading, rawStateWriting:
			if !now.Before(u.timeoutPoint) {
				u.state = rawStateFailed
				close(u.done)
				u.mu.Unlock()
				continue
			}
		}

		if u.state == rawStatePending {
			switch u.mode {
			case rawModeRead:
				sendRead(u.index, u.sub)
				u.state = rawStateReading
			case rawModeWrite:
				sendWrite(u.index, u.sub, u.writeData[:u.writeDataSize])
				u.state = rawStateWriting
			}
		}
		u.mu.Unlock()
	}
}

// TryCompleteRead looks for an in-use slot waiting on a read of (index, sub)
// and, if found, completes it with the given raw response bytes. Returns
// true if a slot handled the response (in which case the caller must not
// also treat it as an object-table response).
func (p *RawSDOPool) TryCompleteRead(index uint16, sub uint8, value []byte) bool {
	for i := range p.units {
		u := &p.units[i]
		if !u.inUse.Load() {
			continue
		}
		u.mu.Lock()
		if u.index == index && u.sub == sub && u.mode == rawModeRead && u.state == rawStateReading {
			u.result = append([]byte(nil), value...)
			u.state = rawStateSuccess
			close(u.done)
			u.mu.Unlock()
			return true
		}
		u.mu.Unlock()
	}
	return false
}

// TryCompleteWrite looks for an in-use slot waiting on a write to (index,
// sub) and, if found, completes it successfully.
func (p *RawSDOPool) TryCompleteWrite(index uint16, sub uint8) bool {
	for i := range p.units {
		u := &p.units[i]
		if !u.inUse.Load() {
			continue
		}
		u.mu.Lock()
		if u.index == index && u.sub == sub && u.mode == rawModeWrite && u.state == rawStateWriting {
			u.state = rawStateSuccess
			close(u.done)
			u.mu.Unlock()
			return true
		}
		u.mu.Unlock()
	}
	return false
}
