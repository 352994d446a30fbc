package xinstr

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

func TestDecodeNop(t *testing.T) {
	in, err := Decode([]byte{0x90, 0xcc, 0xcc}, Mode64)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, in.Len == 1, "expected length 1, got %d", in.Len)
	assert(t, in.IsPadding(), "0x90 should be padding")
	assert(t, !in.IsTerminal(), "nop should not be terminal")
}

func TestDecodeRet(t *testing.T) {
	in, err := Decode([]byte{0xc3}, Mode64)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, in.IsTerminal(), "ret should be terminal")
}

func TestShortJumpRetarget(t *testing.T) {
	// eb 10 = jmp short +0x10, instruction at 0x1000 targets 0x1012.
	buf := []byte{0xeb, 0x10}
	in, err := Decode(buf, Mode64)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, in.HasRelativeBranchDisplacement(), "expected relative branch displacement")

	target, err := in.AbsoluteTarget(0x1000)
	assert(t, err == nil, "absolute target failed: %v", err)
	assert(t, target == 0x1012, "expected target 0x1012, got %#x", target)

	err = in.Retarget(0x1000, 0x1040)
	assert(t, err == nil, "retarget failed: %v", err)
	newTarget, err := in.AbsoluteTarget(0x1040)
	assert(t, err == nil, "absolute target failed: %v", err)
	assert(t, newTarget == 0x1012, "relocated instruction changed its target: got %#x", newTarget)
}

func TestShortJumpOverflowsOnLongRetarget(t *testing.T) {
	buf := []byte{0xeb, 0x10}
	in, err := Decode(buf, Mode64)
	assert(t, err == nil, "decode failed: %v", err)

	err = in.Retarget(0x1000, 0x10000000)
	assert(t, err == ErrDisplacementOverflow, "expected overflow error, got %v", err)
}

func TestRIPRelativeLoadIsData(t *testing.T) {
	// 48 8b 05 10 00 00 00 = mov rax, [rip+0x10]
	buf := []byte{0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00}
	in, err := Decode(buf, Mode64)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, in.HasPositionDependentOperand(), "expected position dependent operand")
	assert(t, in.IsRIPRelativeData(), "expected RIP relative data reference")
	assert(t, !in.HasRelativeBranchDisplacement(), "data reference is not a branch")
}

func TestCanReach(t *testing.T) {
	assert(t, CanReach(0x1000, 0x1000+JumpLen+10), "nearby forward target should be reachable")
	assert(t, !CanReach(0x1000, 0x1000+1<<32), "far target should not be reachable")
}

func TestEncodeJumpRoundTrips(t *testing.T) {
	buf := make([]byte, JumpLen)
	err := EncodeJump(buf, 0x1000, 0x2000)
	assert(t, err == nil, "encode failed: %v", err)

	in, err := Decode(buf, Mode64)
	assert(t, err == nil, "decode of encoded jump failed: %v", err)
	target, err := in.AbsoluteTarget(0x1000)
	assert(t, err == nil, "absolute target failed: %v", err)
	assert(t, target == 0x2000, "expected jump to target 0x2000, got %#x", target)
}

func TestFillNop(t *testing.T) {
	buf := make([]byte, 5)
	FillNop(buf)
	for i, b := range buf {
		assert(t, b == 0x90, "byte %d not nop: %#x", i, b)
	}
}
