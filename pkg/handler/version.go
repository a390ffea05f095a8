package handler

import "fmt"

// FirmwareVersion is a simple major.minor.patch triple. The wire encoding is
// a single uint32: major*10000 + minor*100 + patch, matching the decimal
// version string shown in diagnostic tooling.
type FirmwareVersion struct {
	Major, Minor, Patch uint32
}

func firmwareVersionFromRaw(raw uint32) FirmwareVersion {
	return FirmwareVersion{
		Major: raw / 10000,
		Minor: (raw / 100) % 100,
		Patch: raw % 100,
	}
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// atLeast reports whether v is greater than or equal to min, compared
// lexicographically by (major, minor, patch).
func (v FirmwareVersion) atLeast(min FirmwareVersion) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	if v.Minor != min.Minor {
		return v.Minor > min.Minor
	}
	return v.Patch >= min.Patch
}

// minFirmwareVersion is the oldest firmware this handler supports.
var minFirmwareVersion = FirmwareVersion{Major: 3, Minor: 0, Patch: 0}
