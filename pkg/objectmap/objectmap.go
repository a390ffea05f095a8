// Package objectmap loads a declarative object-map file describing every
// addressable object the hand exposes, and expands it into storage
// descriptors ready to register into a storage.Table. Grounded on the
// teacher's EDS/ini.v1 parser (od_parser.go), repurposed from CANopen object
// dictionary sections to this device's joint/hand object map.
package objectmap

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/wujihand/wujihandgo/pkg/storage"
)

// Scope selects how an object's address is expanded: once per joint (20
// entries, address convention of §6) or once for the whole hand.
type Scope uint8

const (
	ScopeJoint Scope = iota
	ScopeHand
)

// Joint address base and finger/joint stride constants, per §6's address convention:
// 0x2000 + finger*0x800 + joint*0x100 + base_index.
const (
	jointAddressBase   uint16 = 0x2000
	fingerStride       uint16 = 0x0800
	jointStride        uint16 = 0x0100
	handAddressOffset  uint16 = 0x0000
)

// isReversedJoint reports whether a joint is mounted with inverted sign
// convention: joint index 0 (J1) of every non-thumb finger (finger != 0),
// matching the original's is_reversed_joint (wujihandcpp/include/
// wujihandcpp/data/joint.hpp).
func isReversedJoint(finger, joint int) bool {
	return finger != 0 && joint == 0
}

// jointPolicy ORs in PolicyPositionReversed for a POSITION-policy object on
// a reversed joint, so SDO reads/writes of that joint's position carry the
// same sign convention as the PDO realtime path (§3, §4.4, §8).
func jointPolicy(policy storage.Policy, finger, joint int) storage.Policy {
	if policy&storage.PolicyPosition != 0 && isReversedJoint(finger, joint) {
		policy |= storage.PolicyPositionReversed
	}
	return policy
}

// Entry is one expanded object: a joint-level entry carries its finger and
// joint index, a hand-level entry leaves both at -1.
type Entry struct {
	Name       string
	Finger     int
	Joint      int
	Descriptor storage.Descriptor
}

var policyNames = map[string]storage.Policy{
	"masked":            storage.PolicyMasked,
	"control_word":      storage.PolicyControlWord,
	"position":          storage.PolicyPosition,
	"position_reversed": storage.PolicyPositionReversed,
	"host_heartbeat":    storage.PolicyHostHeartbeat,
	"effort_limit":      storage.PolicyEffortLimit,
}

// Load parses an object-map .ini file into its expanded entries. Each
// section is one named object; its keys are:
//
//	index      base index (joint scope) or absolute index (hand scope), hex (0x..) or decimal
//	sub_index  sub-index, hex or decimal (default 0)
//	width      wire width in bytes: 1, 2, 4 or 8
//	scope      "joint" (default) or "hand"
//	policy     comma-separated list of policy names (see policyNames)
func Load(path string) ([]Entry, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("objectmap: load %s: %w", path, err)
	}

	var entries []Entry
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		baseIndex, err := parseUint16(section.Key("index").String())
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: index: %w", name, err)
		}
		subIndex, err := parseSubIndex(section.Key("sub_index").String())
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: sub_index: %w", name, err)
		}
		width, err := strconv.Atoi(section.Key("width").MustString("4"))
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: width: %w", name, err)
		}
		size, err := sizeForWidth(width)
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: %w", name, err)
		}
		policy, err := parsePolicy(section.Key("policy").String())
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: policy: %w", name, err)
		}
		scope, err := parseScope(section.Key("scope").MustString("joint"))
		if err != nil {
			return nil, fmt.Errorf("objectmap: section %s: scope: %w", name, err)
		}

		switch scope {
		case ScopeJoint:
			for finger := 0; finger < 5; finger++ {
				for joint := 0; joint < 4; joint++ {
					index := jointAddressBase + uint16(finger)*fingerStride + uint16(joint)*jointStride + baseIndex
					entries = append(entries, Entry{
						Name:   name,
						Finger: finger,
						Joint:  joint,
						Descriptor: storage.Descriptor{
							Index:    index,
							SubIndex: subIndex,
							Size:     size,
							Policy:   jointPolicy(policy, finger, joint),
							Name:     name,
						},
					})
				}
			}
		case ScopeHand:
			entries = append(entries, Entry{
				Name:   name,
				Finger: -1,
				Joint:  -1,
				Descriptor: storage.Descriptor{
					Index:    baseIndex + handAddressOffset,
					SubIndex: subIndex,
					Size:     size,
					Policy:   policy,
					Name:     name,
				},
			})
		}
	}
	return entries, nil
}

// Register assigns each entry a sequential storage id in table and returns a
// lookup from (name, finger, joint) to the unit. finger/joint are -1 for a
// hand-level entry's own lookup key.
func Register(table *storage.Table, entries []Entry) (map[Key]*storage.Unit, error) {
	units := make(map[Key]*storage.Unit, len(entries))
	for i, entry := range entries {
		if err := table.Init(i, entry.Descriptor); err != nil {
			return nil, err
		}
		units[Key{Name: entry.Name, Finger: entry.Finger, Joint: entry.Joint}] = table.Get(i)
	}
	return units, nil
}

// Key identifies one registered unit by its object-map name and joint
// coordinates (-1, -1 for a hand-level object).
type Key struct {
	Name   string
	Finger int
	Joint  int
}

func sizeForWidth(width int) (storage.Size, error) {
	switch width {
	case 1:
		return storage.Size1, nil
	case 2:
		return storage.Size2, nil
	case 4:
		return storage.Size4, nil
	case 8:
		return storage.Size8, nil
	default:
		return 0, fmt.Errorf("unsupported width %d", width)
	}
}

func parsePolicy(raw string) (storage.Policy, error) {
	var policy storage.Policy
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	for _, name := range strings.Split(raw, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		bit, ok := policyNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown policy name %q", name)
		}
		policy |= bit
	}
	return policy, nil
}

func parseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "joint":
		return ScopeJoint, nil
	case "hand":
		return ScopeHand, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", raw)
	}
}

func parseUint16(raw string) (uint16, error) {
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseSubIndex(raw string) (uint8, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 0, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}
