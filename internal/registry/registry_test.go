package registry

import (
	"errors"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestIsHookSpecValidRejectsNilAddresses(t *testing.T) {
	err := isHookSpecValid(0, 0x1000)
	assert(t, errors.Is(err, ErrInvalidArgument), "expected ErrInvalidArgument for nil target, got %v", err)

	err = isHookSpecValid(0x1000, 0)
	assert(t, errors.Is(err, ErrInvalidArgument), "expected ErrInvalidArgument for nil hook func, got %v", err)
}

func TestIsHookSpecValidRejectsOverlappingHookFunc(t *testing.T) {
	target := uintptr(0x140000000)
	for _, hookFunc := range []uintptr{target, target + 1, target + 4} {
		err := isHookSpecValid(target, hookFunc)
		assert(t, errors.Is(err, ErrInvalidArgument), "expected overlap at %#x to be rejected, got %v", hookFunc, err)
	}
}

func TestIsHookSpecValidAcceptsDisjointAddresses(t *testing.T) {
	target := uintptr(0x140000000)
	err := isHookSpecValid(target, target+5)
	assert(t, err == nil, "expected addresses exactly JumpLen apart to be accepted, got %v", err)

	err = isHookSpecValid(target, 0x7ff000000000)
	assert(t, err == nil, "expected a far replacement function to be accepted, got %v", err)
}
