// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/osfs/errors"
)

type UnitID uint32

// Allocator tracks which units (blocks or inodes) are in use, one bit per unit.
// A set bit means the unit is allocated. Allocation is first-fit starting from
// FirstUsable; units below it are reserved and never handed out.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	TotalUnits       uint
	FirstUsable      UnitID
}

// NewAllocator creates a new allocation bitmap with all bits cleared.
func NewAllocator(totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		TotalUnits:       totalUnits,
	}
}

// NewAllocatorFromInUseBitmap creates a new allocator starting from an existing
// bitmap that indicates which units are in use. `inUseMap` is copied, and may
// be longer than necessary.
func NewAllocatorFromInUseBitmap(inUseMap []byte, totalUnits uint) Allocator {
	alloc := NewAllocator(totalUnits)
	for i := 0; i < int(totalUnits) && i/8 < len(inUseMap); i++ {
		alloc.AllocationBitmap.Set(i, bitmap.Get(inUseMap, i))
	}
	return alloc
}

// AllocateSingle allocates the first available unit it finds and returns its
// index. If no units are available, it returns an error.
func (alloc *Allocator) AllocateSingle() (UnitID, error) {
	for i := uint(alloc.FirstUsable); i < alloc.TotalUnits; i++ {
		if !alloc.AllocationBitmap.Get(int(i)) {
			alloc.AllocationBitmap.Set(int(i), true)
			return UnitID(i), nil
		}
	}
	return 0, errors.ErrNoSpaceOnDevice
}

// Reserve marks a unit as allocated regardless of its current state.
func (alloc *Allocator) Reserve(unit UnitID) error {
	if err := alloc.checkUnit(unit); err != nil {
		return err
	}
	alloc.AllocationBitmap.Set(int(unit), true)
	return nil
}

// FreeSingle frees an allocated unit. Trying to free a unit that isn't
// allocated is a conflict.
func (alloc *Allocator) FreeSingle(unit UnitID) error {
	if err := alloc.checkUnit(unit); err != nil {
		return err
	}
	if !alloc.AllocationBitmap.Get(int(unit)) {
		return errors.ErrConflict.WithMessage(
			fmt.Sprintf("unit %d is already free", unit))
	}

	alloc.AllocationBitmap.Set(int(unit), false)
	return nil
}

// IsAllocated returns whether the unit's bit is set. Out-of-range units are
// never allocated.
func (alloc *Allocator) IsAllocated(unit UnitID) bool {
	if uint(unit) >= alloc.TotalUnits {
		return false
	}
	return alloc.AllocationBitmap.Get(int(unit))
}

// CountAllocated counts the set bits in the range [start, TotalUnits).
func (alloc *Allocator) CountAllocated(start UnitID) uint {
	total := uint(0)
	for i := uint(start); i < alloc.TotalUnits; i++ {
		if alloc.AllocationBitmap.Get(int(i)) {
			total++
		}
	}
	return total
}

// Bytes returns a copy of the bitmap, exactly ceil(TotalUnits / 8) bytes long.
func (alloc *Allocator) Bytes() []byte {
	data := alloc.AllocationBitmap.Data(true)
	return data[:DivRoundUp(alloc.TotalUnits, 8)]
}

// Snapshot returns the state of every unit as a bool slice.
func (alloc *Allocator) Snapshot() []bool {
	states := make([]bool, alloc.TotalUnits)
	for i := range states {
		states[i] = alloc.AllocationBitmap.Get(i)
	}
	return states
}

func (alloc *Allocator) checkUnit(unit UnitID) error {
	if uint(unit) >= alloc.TotalUnits {
		return errors.ErrFault.WithMessage(
			fmt.Sprintf(
				"invalid unit id: %d not in range [0, %d)",
				unit,
				alloc.TotalUnits,
			),
		)
	}
	return nil
}
