// Package redjmp is an in-process function hooking engine for Windows
// x86 and x86-64 binaries. It rewrites a target function's entry point
// with a jump to a trampoline, relocating whatever instructions that
// jump displaced so the function's original behavior stays callable
// after the hook is installed.
package redjmp

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/redjmp/redjmp/internal/registry"
	"github.com/redjmp/redjmp/internal/xinstr"
	"github.com/redjmp/redjmp/internal/xlog"
)

// Result reports the outcome of a hook operation. Success and NoEffect
// are kept contiguous and ahead of every failure code so that Ok can be
// a single comparison against a boundary value instead of an explicit
// switch.
type Result int

const (
	Success Result = iota
	NoEffect

	resultFailureBoundary

	FailAllocation
	FailBadState
	FailCannotSetHook
	FailDuplicate
	FailInvalidArgument
	FailInternal
	FailNotFound
)

// Ok reports whether r represents Success or NoEffect rather than a
// failure.
func (r Result) Ok() bool { return r < resultFailureBoundary }

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NoEffect:
		return "no effect"
	case FailAllocation:
		return "allocation failed"
	case FailBadState:
		return "bad state"
	case FailCannotSetHook:
		return "cannot set hook"
	case FailDuplicate:
		return "duplicate"
	case FailInvalidArgument:
		return "invalid argument"
	case FailInternal:
		return "internal error"
	case FailNotFound:
		return "not found"
	default:
		return fmt.Sprintf("redjmp.Result(%d)", int(r))
	}
}

var defaultMode = nativeMode()

var global = registry.New(defaultMode)

// SetLogger replaces the logrus logger redjmp uses for its own
// diagnostics (hook create/replace/disable outcomes, and trampoline
// construction steps with disassembly dumps at debug level). Passing nil restores the default logger, which writes
// warnings and above to stderr.
func SetLogger(l *logrus.Logger) { xlog.SetLogger(l) }

// CreateHook installs a hook at targetFunc so that control transfers to
// hookFunc instead. originalFunc, valid only when the result is Ok, is
// the address to call to run targetFunc's original behavior.
func CreateHook(targetFunc, hookFunc unsafe.Pointer) (originalFunc unsafe.Pointer, result Result) {
	target := uintptr(targetFunc)
	hook := uintptr(hookFunc)

	log := xlog.Logger()
	if log.IsLevelEnabled(logrus.DebugLevel) {
		log.WithFields(logrus.Fields{"target": fmt.Sprintf("%#x", target), "hook": fmt.Sprintf("%#x", hook)}).Debug("creating hook")
	}

	addr, err := global.CreateHook(target, hook)
	if err != nil {
		result := classifyError(err)
		log.WithError(err).WithField("result", result).Warn("create hook failed")
		return nil, result
	}
	log.WithFields(logrus.Fields{"target": fmt.Sprintf("%#x", target), "hook": fmt.Sprintf("%#x", hook)}).Info("hook created")
	return unsafe.Pointer(addr), Success
}

// GetOriginalFunction returns the address that runs targetFunc's
// original, unhooked behavior.
func GetOriginalFunction(targetFunc unsafe.Pointer) (originalFunc unsafe.Pointer, result Result) {
	addr, err := global.GetOriginalFunction(uintptr(targetFunc))
	if err != nil {
		return nil, classifyError(err)
	}
	return unsafe.Pointer(addr), Success
}

// ReplaceHookFunction changes which function a live hook on targetFunc
// transfers control to.
func ReplaceHookFunction(targetFunc, newHookFunc unsafe.Pointer) Result {
	target := uintptr(targetFunc)
	hook := uintptr(newHookFunc)

	log := xlog.Logger()
	err := global.ReplaceHookFunction(target, hook)
	if err != nil {
		result := classifyError(err)
		log.WithError(err).WithField("result", result).Warn("replace hook function failed")
		return result
	}
	log.WithFields(logrus.Fields{"target": fmt.Sprintf("%#x", target), "hook": fmt.Sprintf("%#x", hook)}).Info("hook function replaced")
	return Success
}

// DisableHookFunction restores targetFunc's original behavior, leaving
// the hook's bookkeeping in place so it can be re-enabled later with
// ReplaceHookFunction.
func DisableHookFunction(targetFunc unsafe.Pointer) Result {
	target := uintptr(targetFunc)

	log := xlog.Logger()
	err := global.DisableHookFunction(target)
	if err != nil {
		result := classifyError(err)
		log.WithError(err).WithField("result", result).Warn("disable hook function failed")
		return result
	}
	log.WithField("target", fmt.Sprintf("%#x", target)).Info("hook function disabled")
	return Success
}

// NewHookByName resolves funcName in dllName and hooks it, a
// convenience wrapper over CreateHook for the common case of hooking an
// exported function by name instead of by address.
func NewHookByName(dllName, funcName string, hookFunc unsafe.Pointer) (originalFunc unsafe.Pointer, result Result) {
	target, err := findProc(dllName, funcName)
	if err != nil {
		xlog.Logger().WithError(err).WithFields(logrus.Fields{"dll": dllName, "func": funcName}).Warn("could not resolve export")
		return nil, FailNotFound
	}
	return CreateHook(unsafe.Pointer(target), hookFunc)
}

func classifyError(err error) Result {
	switch {
	case errors.Is(err, registry.ErrInvalidArgument):
		return FailInvalidArgument
	case errors.Is(err, registry.ErrDuplicate):
		return FailDuplicate
	case errors.Is(err, registry.ErrNotFound):
		return FailNotFound
	case errors.Is(err, registry.ErrCannotSetHook):
		return FailCannotSetHook
	case errors.Is(err, registry.ErrAllocation):
		return FailAllocation
	default:
		return FailInternal
	}
}

func nativeMode() xinstr.Mode {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return xinstr.Mode64
	}
	return xinstr.Mode32
}
