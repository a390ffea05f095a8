package storage

import "math"

const int32Max = math.MaxInt32
const int32Min = math.MinInt32
const twoPi = 2 * math.Pi

// ToRawPosition converts an angle in radians to the int32 encoding where
// math.MaxInt32 represents a full turn (2*pi), clamping before rounding.
func ToRawPosition(angle float64) int32 {
	scaled := angle * (int32Max / twoPi)
	if scaled > int32Max {
		scaled = int32Max
	}
	if scaled < int32Min {
		scaled = int32Min
	}
	return int32(math.Round(scaled))
}

// ExtractRawPosition is the inverse of ToRawPosition.
func ExtractRawPosition(raw int32) float64 {
	return float64(raw) * (twoPi / int32Max)
}

// ToRawMilliamps converts an effort-limit value in amperes to the firmware's
// milliampere encoding.
func ToRawMilliamps(amps float64) int32 {
	return int32(math.Round(amps * 1000))
}

// ExtractMilliamps is the inverse of ToRawMilliamps.
func ExtractMilliamps(raw int32) float64 {
	return float64(raw) / 1000.0
}

// StoreData applies an object's translation policy to data and caches the
// resulting raw bytes, matching the firmware's on-wire representation.
func StoreData(unit *Unit, data Buffer8) {
	switch {
	case unit.Descriptor.Policy&PolicyControlWord != 0:
		var word uint16 = 5
		if data.Bool() {
			word = 1
		}
		unit.value.Store(uint64(word))

	case unit.Descriptor.Policy&PolicyPosition != 0:
		raw := ToRawPosition(data.Float64())
		if unit.Descriptor.Policy&PolicyPositionReversed != 0 {
			raw = -raw
		}
		unit.value.Store(uint64(uint32(raw)))

	case unit.Descriptor.Policy&PolicyEffortLimit != 0:
		raw := ToRawMilliamps(data.Float64())
		unit.value.Store(uint64(uint32(raw)))

	default:
		unit.value.Store(data.Uint64())
	}
}

// LoadData reverses an object's translation policy over its cached raw
// value, producing the caller-facing representation.
func LoadData(unit *Unit) Buffer8 {
	raw := unit.value.Load()

	switch {
	case unit.Descriptor.Policy&PolicyControlWord != 0:
		return Buffer8FromBool(uint16(raw) == 1)

	case unit.Descriptor.Policy&PolicyPosition != 0:
		value := int32(uint32(raw))
		angle := ExtractRawPosition(value)
		if unit.Descriptor.Policy&PolicyPositionReversed != 0 {
			angle = -angle
		}
		return Buffer8FromFloat64(angle)

	case unit.Descriptor.Policy&PolicyEffortLimit != 0:
		return Buffer8FromFloat64(ExtractMilliamps(int32(uint32(raw))))

	default:
		return Buffer8FromUint64(raw)
	}
}
