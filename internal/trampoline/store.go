package trampoline

import (
	"fmt"

	"github.com/redjmp/redjmp/internal/winapi"
)

// StoreCapacity is how many trampoline slots fit in one store. 4096 is
// one page on every x86/x86-64 Windows build; a store is exactly one
// VirtualAlloc region, so a single store is a single page.
const StoreCapacity = 4096 / Size

// StoreSizeBytes is the size in bytes of one store's backing
// allocation.
const StoreSizeBytes = StoreCapacity * Size

// Store is one VirtualAlloc'd executable page, sliced into fixed-size
// trampoline slots and handed out monotonically. Slots are never
// returned to a free list for arbitrary reuse; the only way one comes
// back is Deallocate undoing the single most recent Allocate, used by a
// caller that failed partway through setting up a hook and needs to
// leave the store exactly as it found it.
type Store struct {
	base  uintptr
	used  int
	slots []*Trampoline
}

// NewStore allocates a new store. If hint is nonzero, the OS is asked to
// place the allocation at that address; Windows may still choose a
// different address; the caller must check Base() against the hint
// after construction if placement matters.
func NewStore(hint uintptr) (*Store, error) {
	base, err := winapi.VirtualAlloc(hint, StoreSizeBytes, winapi.ProtectExecuteReadWrite)
	if err != nil {
		return nil, fmt.Errorf("trampoline: allocate store: %w", err)
	}
	return &Store{base: base, slots: make([]*Trampoline, 0, StoreCapacity)}, nil
}

// Base returns the address the store's backing page was actually placed
// at.
func (s *Store) Base() uintptr { return s.base }

// Count is the number of slots handed out so far.
func (s *Store) Count() int { return s.used }

// FreeCount is the number of slots still available.
func (s *Store) FreeCount() int { return StoreCapacity - s.used }

// Full reports whether every slot in the store has been allocated.
func (s *Store) Full() bool { return s.used >= StoreCapacity }

// Close releases the store's backing allocation. It must not be called
// on a store with any slot still in active use.
func (s *Store) Close() error {
	return winapi.VirtualFree(s.base)
}

// Allocate hands out the next unused slot, initialized to its default
// contents.
func (s *Store) Allocate() (*Trampoline, error) {
	if s.Full() {
		return nil, fmt.Errorf("trampoline: store at %#x is full", s.base)
	}
	addr := s.base + uintptr(s.used*Size)
	t := New(addr)
	s.slots = append(s.slots, t)
	s.used++
	return t, nil
}

// Deallocate undoes the most recent Allocate, provided t is indeed the
// slot that call returned. It exists solely so a caller that failed
// partway through setting up a hook can roll back cleanly instead of
// leaving a half-configured trampoline permanently occupying a slot.
func (s *Store) Deallocate(t *Trampoline) error {
	if s.used == 0 || s.slots[s.used-1] != t {
		return fmt.Errorf("trampoline: %#x is not the most recently allocated slot in store %#x", t.Addr(), s.base)
	}
	s.used--
	s.slots = s.slots[:s.used]
	t.Reset()
	return nil
}
