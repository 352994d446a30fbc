package memutil

import (
	"fmt"
	"testing"
	"unsafe"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestViewAliasesUnderlyingBytes(t *testing.T) {
	backing := []byte{1, 2, 3, 4, 5}
	addr := uintptr(unsafe.Pointer(&backing[0]))

	v := View(addr, len(backing))
	assert(t, len(v) == len(backing), "expected length %d, got %d", len(backing), len(v))

	v[0] = 0xff
	assert(t, backing[0] == 0xff, "write through View did not alias the backing array")
}

func TestViewZeroLengthIsNil(t *testing.T) {
	v := View(0x1000, 0)
	assert(t, v == nil, "expected nil slice for zero length")
}

func TestCopyWritesThroughView(t *testing.T) {
	backing := make([]byte, 4)
	addr := uintptr(unsafe.Pointer(&backing[0]))

	Copy(addr, []byte{9, 8, 7, 6})
	assert(t, backing[0] == 9 && backing[3] == 6, "Copy did not write expected bytes: %v", backing)
}
