package winapi

import "sync/atomic"

// Cell is a protected dependency slot: a process-wide pointer to one of
// the OS functions the engine itself relies on internally. If the caller
// hooks the corresponding OS function, the engine's own internal calls
// must keep working, so every internal call site reads the function
// pointer through a Cell instead of calling the OS function by name.
//
// The C++ original expressed this with a volatile pointer plus a memory
// fence; atomic.Uintptr is the direct Go analogue, giving the same
// guarantee that a concurrent update is never observed torn.
type Cell struct {
	addr atomic.Uintptr
}

// NewCell creates a Cell seeded with initial.
func NewCell(initial uintptr) *Cell {
	c := &Cell{}
	c.addr.Store(initial)
	return c
}

// Load returns the address the engine should currently call through.
func (c *Cell) Load() uintptr { return c.addr.Load() }

// Update repoints the cell. It seeds the cell with the OS address at
// package initialization, and the hook registry calls it when it
// installs a hook on the dependency this cell tracks.
func (c *Cell) Update(newAddr uintptr) { c.addr.Store(newAddr) }

// Dependencies holds one Cell per OS function the engine calls
// internally while servicing a hook request. This is a deliberately
// small subset of Hookshot's full protected set: only the functions
// redjmp's own create/replace/disable paths actually call. Functions
// Hookshot protects solely for its injector (process creation, file
// mapping, library loading) have no internal caller here and are
// intentionally left unprotected.
type Dependencies struct {
	VirtualAlloc          *Cell
	VirtualFree           *Cell
	VirtualProtect        *Cell
	VirtualQuery          *Cell
	FlushInstructionCache *Cell
	GetModuleHandleEx     *Cell
}

var global = &Dependencies{
	VirtualAlloc:          NewCell(0),
	VirtualFree:           NewCell(0),
	VirtualProtect:        NewCell(0),
	VirtualQuery:          NewCell(0),
	FlushInstructionCache: NewCell(0),
	GetModuleHandleEx:     NewCell(0),
}

// Global returns the process-wide protected dependency table.
func Global() *Dependencies { return global }
