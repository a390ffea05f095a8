package storage

import "fmt"

func indexKey(index uint16, subIndex uint8) uint32 {
	return uint32(index)<<8 | uint32(subIndex)
}

// Table is the fixed-size array of storage units the SDO tick thread walks
// every cycle, plus an index lookup by (index, sub_index) for incoming
// responses.
type Table struct {
	units []*Unit
	index map[uint32]*Unit
}

// NewTable allocates count empty units, to be filled in by Init.
func NewTable(count int) *Table {
	units := make([]*Unit, count)
	for i := range units {
		units[i] = NewUnit(Descriptor{})
	}
	return &Table{units: units, index: make(map[uint32]*Unit, count)}
}

// Init assigns a descriptor to storageID and registers it for index lookup.
func (t *Table) Init(storageID int, desc Descriptor) error {
	if storageID < 0 || storageID >= len(t.units) {
		return fmt.Errorf("storage: storage id %d out of range [0,%d)", storageID, len(t.units))
	}
	unit := NewUnit(desc)
	t.units[storageID] = unit
	t.index[indexKey(desc.Index, desc.SubIndex)] = unit
	return nil
}

// Get returns the unit at storageID.
func (t *Table) Get(storageID int) *Unit { return t.units[storageID] }

// Len returns the number of units in the table.
func (t *Table) Len() int { return len(t.units) }

// Lookup finds the unit registered for (index, subIndex), if any.
func (t *Table) Lookup(index uint16, subIndex uint8) (*Unit, bool) {
	u, ok := t.index[indexKey(index, subIndex)]
	return u, ok
}

// Units returns the underlying slice for iteration by the tick thread.
func (t *Table) Units() []*Unit { return t.units }
