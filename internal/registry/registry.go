// Package registry is the process-wide hook table: it maps hooked
// function addresses to the trampolines servicing them, creates new
// hooks, and lets callers fetch the original function, replace the
// active replacement function, or disable a hook entirely. It owns the
// arena of trampoline stores every hook's trampoline is carved out of.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/redjmp/redjmp/internal/trampoline"
	"github.com/redjmp/redjmp/internal/winapi"
	"github.com/redjmp/redjmp/internal/xinstr"
)

var (
	// ErrInvalidArgument covers null pointers and a replacement function
	// that overlaps the bytes about to be overwritten at the target.
	ErrInvalidArgument = errors.New("registry: invalid argument")
	// ErrDuplicate means the target is already hooked, or the requested
	// replacement function is already acting as a replacement elsewhere.
	ErrDuplicate = errors.New("registry: duplicate hook")
	ErrNotFound  = errors.New("registry: no hook registered for this target")
	// ErrCannotSetHook wraps a failure while writing the trampoline or
	// the redirect jump; the target is left unmodified.
	ErrCannotSetHook = errors.New("registry: cannot set hook")
	ErrAllocation    = errors.New("registry: cannot allocate trampoline storage")
)

type hookEntry struct {
	target     uintptr
	hookFunc   uintptr
	trampoline *trampoline.Trampoline
}

// Registry is the process-wide hook table. The zero value is not usable;
// construct one with New.
type Registry struct {
	mu sync.RWMutex

	byTarget     map[uintptr]*hookEntry
	byTrampoline map[*trampoline.Trampoline]*hookEntry
	byHookFunc   map[uintptr]*hookEntry

	stores []*trampoline.Store

	mode xinstr.Mode
	deps *winapi.Dependencies
}

// New creates an empty registry. mode selects 32- or 64-bit instruction
// decoding for every hook this registry creates.
func New(mode xinstr.Mode) *Registry {
	return &Registry{
		byTarget:     make(map[uintptr]*hookEntry),
		byTrampoline: make(map[*trampoline.Trampoline]*hookEntry),
		byHookFunc:   make(map[uintptr]*hookEntry),
		mode:         mode,
		deps:         winapi.Global(),
	}
}

func isHookSpecValid(target, hookFunc uintptr) error {
	if target == 0 || hookFunc == 0 {
		return fmt.Errorf("%w: target and hook function must be non-nil", ErrInvalidArgument)
	}
	// the replacement function can't itself live inside the bytes the
	// redirect jump is about to overwrite, or installing the hook would
	// corrupt the replacement before it ever runs.
	if hookFunc >= target && hookFunc < target+uintptr(xinstr.JumpLen) {
		return fmt.Errorf("%w: hook function overlaps the bytes being patched", ErrInvalidArgument)
	}
	return nil
}

// CreateHook installs a new hook at target so that control transfers to
// hookFunc instead, and returns the address to call to invoke target's
// original, unhooked behavior.
func (r *Registry) CreateHook(target, hookFunc uintptr) (originalFuncAddr uintptr, err error) {
	if err := isHookSpecValid(target, hookFunc); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTarget[target]; exists {
		return 0, fmt.Errorf("%w: %#x is already hooked", ErrDuplicate, target)
	}
	if _, exists := r.byHookFunc[hookFunc]; exists {
		return 0, fmt.Errorf("%w: %#x is already acting as a replacement function", ErrDuplicate, hookFunc)
	}

	store, err := r.storeFor(target)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	tramp, err := store.Allocate()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	// A failure from here on must leave the world exactly as it was
	// before CreateHook was called: undo the slot allocation rather
	// than leaving a half-configured trampoline permanently occupying
	// it and rely on the fact that nothing has touched the registry's
	// maps or target's bytes yet.
	if err := tramp.SetHookFunction(hookFunc); err != nil {
		store.Deallocate(tramp)
		return 0, fmt.Errorf("%w: %v", ErrCannotSetHook, err)
	}
	if err := tramp.SetOriginal(target, r.mode); err != nil {
		store.Deallocate(tramp)
		return 0, fmt.Errorf("%w: %v", ErrCannotSetHook, err)
	}
	if err := redirectExecution(target, tramp.PatchLen(), tramp.HookRegionAddr()); err != nil {
		store.Deallocate(tramp)
		return 0, fmt.Errorf("%w: %v", ErrCannotSetHook, err)
	}

	entry := &hookEntry{target: target, hookFunc: hookFunc, trampoline: tramp}
	r.byTarget[target] = entry
	r.byTrampoline[tramp] = entry
	r.byHookFunc[hookFunc] = entry
	r.updateProtectedDependency(target, tramp.OriginalRegionAddr())

	return tramp.OriginalRegionAddr(), nil
}

// GetOriginalFunction returns the address that runs target's original,
// unhooked behavior.
func (r *Registry) GetOriginalFunction(target uintptr) (uintptr, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byTarget[target]
	if !ok {
		return 0, fmt.Errorf("%w: %#x", ErrNotFound, target)
	}
	return entry.trampoline.OriginalRegionAddr(), nil
}

// ReplaceHookFunction changes which function a live hook transfers
// control to.
func (r *Registry) ReplaceHookFunction(target, newHookFunc uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byTarget[target]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotFound, target)
	}
	if entry.hookFunc == newHookFunc {
		return nil
	}
	if err := isHookSpecValid(target, newHookFunc); err != nil {
		return err
	}
	if _, taken := r.byHookFunc[newHookFunc]; taken {
		return fmt.Errorf("%w: %#x is already acting as a replacement function", ErrDuplicate, newHookFunc)
	}

	if err := entry.trampoline.SetHookFunction(newHookFunc); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotSetHook, err)
	}

	delete(r.byHookFunc, entry.hookFunc)
	entry.hookFunc = newHookFunc
	r.byHookFunc[newHookFunc] = entry
	return nil
}

// DisableHookFunction restores target's original behavior by pointing
// its hook back at the relocated original, making the hook dormant
// rather than removing its bookkeeping.
func (r *Registry) DisableHookFunction(target uintptr) error {
	r.mu.RLock()
	entry, ok := r.byTarget[target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotFound, target)
	}
	return r.ReplaceHookFunction(target, entry.trampoline.OriginalRegionAddr())
}
