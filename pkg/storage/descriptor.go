// Package storage holds the per-object storage table the SDO engine drains:
// a fixed array of objects each carrying a cached raw value, a version
// counter, an atomically-swapped operation state, and value-translation
// policy bits (position/control-word/heartbeat/effort-limit scaling).
package storage

// Policy is a bitmask of translation/transport behaviors applied to an
// object's cached value.
type Policy uint16

const (
	// PolicyMasked objects never transmit: every operation on them succeeds
	// immediately without an SDO round trip.
	PolicyMasked Policy = 1 << iota
	// PolicyControlWord translates a bool to/from the firmware's 1=true/5=false
	// control word encoding.
	PolicyControlWord
	// PolicyPosition translates a float64 radians value to/from an int32 raw
	// encoding where math.MaxInt32 represents 2*pi.
	PolicyPosition
	// PolicyPositionReversed additionally negates the raw value, for joints
	// mounted with inverted sign convention.
	PolicyPositionReversed
	// PolicyHostHeartbeat marks an object refreshed periodically by the
	// watchdog rather than by direct caller writes.
	PolicyHostHeartbeat
	// PolicyEffortLimit translates a float64 amperes value to/from the
	// firmware's int32 milliampere encoding (only EffortLimit exists; there
	// is no separate CurrentLimit object or policy).
	PolicyEffortLimit
)

// Size is the wire width, in bytes, of an object's raw value.
type Size uint8

const (
	Size1 Size = 1
	Size2 Size = 2
	Size4 Size = 4
	Size8 Size = 8
)

// Width returns the size in bytes.
func (s Size) Width() int { return int(s) }

// Descriptor names and describes one addressable object.
type Descriptor struct {
	Index    uint16
	SubIndex uint8
	Size     Size
	Policy   Policy
	Name     string
}
