package registry

import (
	"fmt"

	"github.com/redjmp/redjmp/internal/memutil"
	"github.com/redjmp/redjmp/internal/winapi"
	"github.com/redjmp/redjmp/internal/xinstr"
)

// redirectExecution overwrites patchLen bytes at target with a universal
// 5-byte near jump to hookRegionAddr, padding any remaining bytes (when
// the relocated prologue needed more than xinstr.JumpLen bytes to reach
// a clean instruction boundary) with single-byte NOPs. The jump written
// here is always a plain rel32 regardless of target architecture: only
// the trampoline's own internal hook stub, which this jump lands on,
// needs an architecture-specific encoding to reach an arbitrarily
// distant replacement function.
func redirectExecution(target uintptr, patchLen int, hookRegionAddr uintptr) error {
	old, err := winapi.VirtualProtect(target, patchLen, winapi.ProtectExecuteReadWrite)
	if err != nil {
		return fmt.Errorf("registry: unprotect target: %w", err)
	}

	buf := memutil.View(target, patchLen)
	saved := append([]byte(nil), buf...)
	if err := xinstr.EncodeJump(buf[:xinstr.JumpLen], target, hookRegionAddr); err != nil {
		winapi.VirtualProtect(target, patchLen, old)
		return fmt.Errorf("registry: encode redirect jump: %w", err)
	}
	xinstr.FillNop(buf[xinstr.JumpLen:])

	// On a failure after the write, put target's original bytes back so
	// the caller can roll back the trampoline without leaving a jump to it.
	if _, err := winapi.VirtualProtect(target, patchLen, old); err != nil {
		copy(buf, saved)
		return fmt.Errorf("registry: restore target protection: %w", err)
	}
	if err := winapi.FlushInstructionCache(target, patchLen); err != nil {
		if _, perr := winapi.VirtualProtect(target, patchLen, winapi.ProtectExecuteReadWrite); perr == nil {
			copy(buf, saved)
			winapi.VirtualProtect(target, patchLen, old)
		}
		return err
	}
	return nil
}

// updateProtectedDependency repoints any protected-dependency cell that
// currently resolves to target, so the engine's own internal calls to
// that OS function keep observing its real behavior instead of being
// redirected through the new hook. newAddr is the address of the
// relocated original (the trampoline's original-function region), which
// runs the exact original instructions the cell's callers expect.
func (r *Registry) updateProtectedDependency(target, newAddr uintptr) {
	for _, cell := range r.protectedCells() {
		if cell.Load() == target {
			cell.Update(newAddr)
		}
	}
}

func (r *Registry) protectedCells() []*winapi.Cell {
	d := r.deps
	return []*winapi.Cell{
		d.VirtualAlloc,
		d.VirtualFree,
		d.VirtualProtect,
		d.VirtualQuery,
		d.FlushInstructionCache,
		d.GetModuleHandleEx,
	}
}
