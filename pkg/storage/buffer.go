package storage

import "math"

// Buffer8 is an 8-byte type-erased value slot, wide enough to hold any
// supported object width or a float64/bool translated form. Callers pick the
// accessor matching what they stored.
type Buffer8 struct {
	bits uint64
}

func Buffer8FromBool(v bool) Buffer8 {
	if v {
		return Buffer8{bits: 1}
	}
	return Buffer8{}
}

func Buffer8FromFloat64(v float64) Buffer8 { return Buffer8{bits: math.Float64bits(v)} }

func Buffer8FromUint64(v uint64) Buffer8 { return Buffer8{bits: v} }

func Buffer8FromInt32(v int32) Buffer8 { return Buffer8{bits: uint64(uint32(v))} }

func (b Buffer8) Bool() bool { return b.bits != 0 }

func (b Buffer8) Float64() float64 { return math.Float64frombits(b.bits) }

func (b Buffer8) Uint64() uint64 { return b.bits }

func (b Buffer8) Int32() int32 { return int32(uint32(b.bits)) }

// Uint returns the low width bytes of the buffer, masked to that width.
func (b Buffer8) Uint(width int) uint64 {
	if width >= 8 {
		return b.bits
	}
	return b.bits & ((uint64(1) << (uint(width) * 8)) - 1)
}
