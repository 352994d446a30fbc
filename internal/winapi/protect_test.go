package winapi

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestCellLoadReflectsUpdate(t *testing.T) {
	c := NewCell(0x1000)
	assert(t, c.Load() == 0x1000, "expected initial value 0x1000, got %#x", c.Load())

	c.Update(0x2000)
	assert(t, c.Load() == 0x2000, "expected updated value 0x2000, got %#x", c.Load())
}

func TestGlobalDependenciesAreDistinctCells(t *testing.T) {
	d := Global()
	cells := []*Cell{d.VirtualAlloc, d.VirtualFree, d.VirtualProtect, d.VirtualQuery, d.FlushInstructionCache, d.GetModuleHandleEx}
	for i, a := range cells {
		for j, b := range cells {
			if i == j {
				continue
			}
			assert(t, a != b, "cells %d and %d alias the same Cell", i, j)
		}
	}
}
