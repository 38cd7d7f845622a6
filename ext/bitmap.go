package ext

import (
	"github.com/boljen/go-bitmap"
	"github.com/bolthur/bfs/errno"
)

// Allocator wraps an in-memory bitmap.Bitmap tracking which blocks or
// inodes in one block group are in use, mirroring the structure of
// dargueta-disko's drivers/common/allocatormap.go Allocator but scoped to a
// single ext block group's bitmap block rather than a whole-volume bitmap.
type Allocator struct {
	bits       bitmap.Bitmap
	totalUnits uint
}

// NewAllocator builds an Allocator over totalUnits bits, all initially
// clear.
func NewAllocator(totalUnits uint) Allocator {
	return Allocator{bits: bitmap.New(int(totalUnits)), totalUnits: totalUnits}
}

// LoadAllocator reconstructs an Allocator from a raw on-disk bitmap block.
func LoadAllocator(raw []byte, totalUnits uint) Allocator {
	a := NewAllocator(totalUnits)
	copy(a.bits, raw)
	return a
}

// Bytes returns the raw bitmap bytes, ready to write back to the bitmap
// block.
func (a *Allocator) Bytes() []byte { return a.bits }

// Get reports whether unit i is allocated.
func (a *Allocator) Get(i uint) bool { return a.bits.Get(int(i)) }

// Allocate finds the first clear bit, sets it, and returns its index.
func (a *Allocator) Allocate() (uint, *errno.Error) {
	for i := uint(0); i < a.totalUnits; i++ {
		if !a.bits.Get(int(i)) {
			a.bits.Set(int(i), true)
			return i, nil
		}
	}
	return 0, errno.New(errno.ENOSPC)
}

// Free clears bit i. Freeing an already-free bit is a no-op.
func (a *Allocator) Free(i uint) *errno.Error {
	if i >= a.totalUnits {
		return errno.Newf(errno.EINVAL, "unit %d not in range [0, %d)", i, a.totalUnits)
	}
	a.bits.Set(int(i), false)
	return nil
}

// FreeCount returns how many of totalUnits bits are still clear.
func (a *Allocator) FreeCount() uint {
	free := uint(0)
	for i := uint(0); i < a.totalUnits; i++ {
		if !a.bits.Get(int(i)) {
			free++
		}
	}
	return free
}
