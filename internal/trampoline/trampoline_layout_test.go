package trampoline

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

func TestSizeIs64Bytes(t *testing.T) {
	assert(t, Size == 64, "expected trampoline size 64, got %d", Size)
	assert(t, hookRegionBytes == 16, "expected hook region 16 bytes, got %d", hookRegionBytes)
	assert(t, origRegionBytes == 48, "expected original region 48 bytes, got %d", origRegionBytes)
}

func TestHookPreambleFitsRegion(t *testing.T) {
	assert(t, len(hookPreamble) <= hookRegionBytes, "preamble (%d bytes) overflows hook region (%d bytes)", len(hookPreamble), hookRegionBytes)
}

func TestEncodeHookValueStaysInRegion(t *testing.T) {
	buf := make([]byte, hookRegionBytes)
	for i := range buf {
		buf[i] = 0xcc
	}
	encodeHookValue(buf, 0x10000, 0x20000)
	// the preamble bytes we didn't touch should remain untouched filler
	// outside of the instruction encoding itself; this mainly guards
	// against encodeHookValue writing past hookRegionBytes.
	assert(t, len(buf) == hookRegionBytes, "encodeHookValue must not resize its buffer")
}
