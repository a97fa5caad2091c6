// Package bufpool slices a registered memory region into the
// equal-sized slots used as the unit of work for exactly one in-flight
// work request at a time (spec.md §4.2).
package bufpool

import (
	"rdmaxfer/internal/rdevice"
	"rdmaxfer/internal/rerrors"
)

const op = "bufpool"

// Slot is one (address-implicit, offset, length) subdivision of the
// pool's backing memory region. Index is the stable work-request
// identifier for this slot across every subsequent send and receive.
type Slot struct {
	Index  uint32
	Offset int64
	Length int64
}

// Pool is the per-connection vector of slots carved from a single MR.
type Pool struct {
	mr      *rdevice.MemoryRegion
	slotLen int64
	slots   []Slot
}

// New packs contiguous slots of slotLen bytes out of mr, discarding
// any remainder smaller than one slot.
func New(mr *rdevice.MemoryRegion, slotLen int64) (*Pool, error) {
	if mr == nil {
		return nil, rerrors.New(rerrors.EInvalidArgument, op, nil)
	}
	if slotLen <= 0 {
		return nil, rerrors.New(rerrors.EInvalidArgument, op, nil)
	}

	count := mr.Length / slotLen
	slots := make([]Slot, count)
	for i := int64(0); i < count; i++ {
		slots[i] = Slot{Index: uint32(i), Offset: i * slotLen, Length: slotLen}
	}
	return &Pool{mr: mr, slotLen: slotLen, slots: slots}, nil
}

// Len returns the number of slots.
func (p *Pool) Len() int { return len(p.slots) }

// SlotLen returns the fixed slot size in bytes.
func (p *Pool) SlotLen() int64 { return p.slotLen }

// Buffer returns the backing bytes for slot i, full slot length.
func (p *Pool) Buffer(i uint32) []byte {
	s := p.slots[i]
	return p.mr.Buffer[s.Offset : s.Offset+s.Length]
}

// Slot returns the i-th slot descriptor.
func (p *Pool) Slot(i uint32) Slot { return p.slots[i] }
