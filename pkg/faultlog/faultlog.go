// Package faultlog watches each joint's firmware error-code bitmask and logs
// the bits that newly became set, looking each one up in a static
// description/remedy/severity table. Adapted from the teacher's EMCY
// error-code table and edge-triggered Error()/Process() pattern, reworked
// from a CANopen node's communication-error bits to this device's per-joint
// fault bits.
package faultlog

import (
	"context"
	"log/slog"
)

// Severity classifies how a fault bit should be surfaced to an operator.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Definition describes one bit of a joint's error-code bitmask.
type Definition struct {
	Bit         uint8
	Description string
	Remedy      string
	Severity    Severity
}

// Definitions is the static per-bit fault table (§4.6), grounded on the
// original firmware's error code enumeration.
var Definitions = []Definition{
	{Bit: 0, Description: "over current", Remedy: "reduce commanded effort or check for a mechanical jam", Severity: SeverityCritical},
	{Bit: 1, Description: "over voltage", Remedy: "check bus supply voltage", Severity: SeverityCritical},
	{Bit: 2, Description: "under voltage", Remedy: "check bus supply voltage and wiring", Severity: SeverityCritical},
	{Bit: 3, Description: "over temperature", Remedy: "allow the joint to cool before continuing operation", Severity: SeverityCritical},
	{Bit: 4, Description: "encoder fault", Remedy: "power-cycle the hand; if persistent, the encoder may need service", Severity: SeverityCritical},
	{Bit: 5, Description: "motor stall", Remedy: "check for a mechanical obstruction", Severity: SeverityWarning},
	{Bit: 6, Description: "communication timeout", Remedy: "check USB cable and host load", Severity: SeverityWarning},
	{Bit: 7, Description: "calibration lost", Remedy: "re-run the joint's zeroing procedure", Severity: SeverityWarning},
}

func lookup(bit uint8) (Definition, bool) {
	for _, d := range Definitions {
		if d.Bit == bit {
			return d, true
		}
	}
	return Definition{}, false
}

// JointID names a fault's origin for logging.
type JointID struct {
	Finger int
	Joint  int
}

// Monitor tracks one joint's last-seen error-code bitmask and logs the bits
// that transition from clear to set.
type Monitor struct {
	id       JointID
	logger   *slog.Logger
	previous uint32
}

// NewMonitor constructs a fault monitor for one joint.
func NewMonitor(id JointID, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{id: id, logger: logger}
}

// Update reports the joint's current error-code bitmask, logging any bit
// that was not set the previous time Update was called.
func (m *Monitor) Update(code uint32) {
	newlySet := code &^ m.previous
	m.previous = code

	for bit := uint8(0); bit < 32; bit++ {
		mask := uint32(1) << bit
		if newlySet&mask == 0 {
			continue
		}
		def, ok := lookup(bit)
		if !ok {
			m.logger.Warn("joint fault bit set, no definition on file",
				"finger", m.id.Finger, "joint", m.id.Joint, "bit", bit)
			continue
		}
		level := slog.LevelError
		switch def.Severity {
		case SeverityInfo:
			level = slog.LevelInfo
		case SeverityWarning:
			level = slog.LevelWarn
		}
		m.logger.Log(context.Background(), level, "joint fault",
			"finger", m.id.Finger, "joint", m.id.Joint,
			"bit", bit, "description", def.Description,
			"remedy", def.Remedy, "severity", def.Severity.String())
	}
}

// Code returns the last bitmask reported to Update.
func (m *Monitor) Code() uint32 { return m.previous }
