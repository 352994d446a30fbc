// Package winapi wraps the small set of kernel32 calls the hooking engine
// needs to allocate executable memory, change page protection, locate
// module boundaries, and flush the instruction cache, plus the protected
// dependency table that lets the engine call these same functions
// internally even after the caller has hooked one of them.
//
// Every call is routed through a Cell (see protect.go) holding
// the function's current entry point rather than through a named
// syscall.Proc, so the engine's own internal calls keep working even
// after a user hook has rewritten the real kernel32 entry point's
// prologue: the registry updates the matching Cell in lockstep with the
// hook it installs.
package winapi

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var kernel32 = windows.NewLazySystemDLL("kernel32.dll")

func mustProc(name string) *windows.LazyProc {
	return kernel32.NewProc(name)
}

func init() {
	d := Global()
	d.VirtualAlloc.Update(mustProc("VirtualAlloc").Addr())
	d.VirtualFree.Update(mustProc("VirtualFree").Addr())
	d.VirtualProtect.Update(mustProc("VirtualProtect").Addr())
	d.VirtualQuery.Update(mustProc("VirtualQuery").Addr())
	d.FlushInstructionCache.Update(mustProc("FlushInstructionCache").Addr())
	d.GetModuleHandleEx.Update(mustProc("GetModuleHandleExW").Addr())
}

// Protect mirrors the subset of Windows page protection constants this
// package cares about.
type Protect uint32

const (
	ProtectExecuteReadWrite Protect = windows.PAGE_EXECUTE_READWRITE
	ProtectExecuteRead      Protect = windows.PAGE_EXECUTE_READ
	ProtectReadWrite        Protect = windows.PAGE_READWRITE
)

const (
	memCommit  = windows.MEM_COMMIT
	memReserve = windows.MEM_RESERVE
	memRelease = windows.MEM_RELEASE
)

// VirtualAlloc reserves and commits a region of memory with the given
// protection, preferring (but not requiring) the supplied address hint.
func VirtualAlloc(hint uintptr, size int, protect Protect) (uintptr, error) {
	addr, _, callErr := syscall.SyscallN(Global().VirtualAlloc.Load(),
		hint, uintptr(size), uintptr(memCommit|memReserve), uintptr(protect))
	if addr == 0 {
		return 0, fmt.Errorf("winapi: VirtualAlloc: %w", callErr)
	}
	return addr, nil
}

// VirtualFree releases a region previously obtained from VirtualAlloc.
func VirtualFree(addr uintptr) error {
	ok, _, callErr := syscall.SyscallN(Global().VirtualFree.Load(), addr, 0, uintptr(memRelease))
	if ok == 0 {
		return fmt.Errorf("winapi: VirtualFree: %w", callErr)
	}
	return nil
}

// VirtualProtect changes the protection of length bytes starting at addr,
// returning the protection that was in effect beforehand so callers can
// restore it.
func VirtualProtect(addr uintptr, length int, newProtect Protect) (Protect, error) {
	var old uint32
	ok, _, callErr := syscall.SyscallN(Global().VirtualProtect.Load(),
		addr, uintptr(length), uintptr(newProtect), uintptr(unsafe.Pointer(&old)))
	if ok == 0 {
		return 0, fmt.Errorf("winapi: VirtualProtect: %w", callErr)
	}
	return Protect(old), nil
}

// FlushInstructionCache ensures a processor whose icache may still hold a
// stale copy of length bytes at addr observes the bytes just written
// there. On x86/x86-64 this is usually a no-op at the hardware level, but
// the call is still required for correctness on some virtualized and
// emulated environments.
func FlushInstructionCache(addr uintptr, length int) error {
	const currentProcessPseudoHandle = ^uintptr(0)
	ok, _, callErr := syscall.SyscallN(Global().FlushInstructionCache.Load(),
		currentProcessPseudoHandle, addr, uintptr(length))
	if ok == 0 {
		return fmt.Errorf("winapi: FlushInstructionCache: %w", callErr)
	}
	return nil
}

const (
	getModuleHandleExFlagFromAddress       = windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS
	getModuleHandleExFlagUnchangedRefcount = windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT
)

// ModuleBaseContaining returns the base address of the module (EXE or
// DLL) that owns addr, falling back to the allocation base of the
// containing memory region when addr does not belong to a named module
// (JIT-generated code, for instance).
func ModuleBaseContaining(addr uintptr) (uintptr, error) {
	var handle uintptr
	ok, _, callErr := syscall.SyscallN(Global().GetModuleHandleEx.Load(),
		uintptr(getModuleHandleExFlagFromAddress|getModuleHandleExFlagUnchangedRefcount),
		addr,
		uintptr(unsafe.Pointer(&handle)))
	if ok == 0 {
		return regionBaseContaining(addr, callErr)
	}
	return handle, nil
}

func regionBaseContaining(addr uintptr, cause error) (uintptr, error) {
	var mbi windows.MemoryBasicInformation
	ok, _, callErr := syscall.SyscallN(Global().VirtualQuery.Load(),
		addr, uintptr(unsafe.Pointer(&mbi)), unsafe.Sizeof(mbi))
	if ok == 0 {
		return 0, fmt.Errorf("winapi: module lookup failed (%v) and VirtualQuery fallback failed: %w", cause, callErr)
	}
	return mbi.AllocationBase, nil
}
