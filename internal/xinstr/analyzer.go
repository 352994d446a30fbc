// Package xinstr decodes and patches single x86/x86-64 instructions. It
// wraps golang.org/x/arch/x86/x86asm, which can decode machine code but
// cannot re-encode it, so relocation is done by patching the displacement
// bytes of a decoded instruction in place within a copy of its original
// bytes rather than by building a new encoding from scratch.
package xinstr

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Mode selects the decode width, mirroring x86asm's 32/64 convention.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// MaxLen is the longest an x86 instruction can legally be.
const MaxLen = 15

// JumpLen is the length, in bytes, of a near relative jump (E9 rel32),
// the universal redirect instruction written at a hooked function's entry
// point regardless of target architecture.
const JumpLen = 5

var (
	// ErrDecode wraps any failure to decode a candidate instruction.
	ErrDecode = errors.New("xinstr: decode failed")
	// ErrNoDisplacement is returned when a displacement-mutating method is
	// called on an instruction that carries no position-dependent operand.
	ErrNoDisplacement = errors.New("xinstr: instruction has no position-dependent operand")
	// ErrDisplacementOverflow is returned when a new displacement value
	// does not fit in the operand's original width.
	ErrDisplacementOverflow = errors.New("xinstr: displacement does not fit in original field width")
)

// Inst is a decoded instruction together with the raw bytes it was decoded
// from. The byte slice is owned by the caller; SetDisplacement mutates it
// in place.
type Inst struct {
	x86asm.Inst
	raw []byte
}

// Decode reads a single instruction from the head of src. src may contain
// trailing bytes belonging to later instructions; only Inst.Len of it
// belongs to this instruction.
func Decode(src []byte, mode Mode) (Inst, error) {
	in, err := x86asm.Decode(src, int(mode))
	if err != nil {
		return Inst{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Inst{Inst: in, raw: src[:in.Len:in.Len]}, nil
}

// Bytes returns the instruction's undecoded machine code.
func (in Inst) Bytes() []byte { return in.raw }

// String renders the instruction's raw bytes alongside its decoded
// mnemonic, for debug-level disassembly logging during trampoline
// construction.
func (in Inst) String() string {
	return fmt.Sprintf("% x\t%s", in.raw, in.Inst.String())
}

// IsPadding reports whether the instruction is a single-byte filler
// commonly left between functions by a compiler or linker: nop (0x90)
// or int3 (0xcc).
func (in Inst) IsPadding() bool {
	return in.Len == 1 && IsPaddingByte(in.raw[0])
}

// IsPaddingByte reports whether b is one of the two single-byte fillers
// treated as padding: nop (0x90) or int3 (0xcc).
func IsPaddingByte(b byte) bool {
	return b == 0x90 || b == 0xcc
}

// PaddingRunLength returns how many leading bytes of buf are a run of
// the same padding byte, stopping at the first byte that differs or
// isn't nop/int3. It returns 0 if buf is empty or does not start with a
// padding byte.
func PaddingRunLength(buf []byte) int {
	if len(buf) == 0 || !IsPaddingByte(buf[0]) {
		return 0
	}
	n := 1
	for n < len(buf) && buf[n] == buf[0] {
		n++
	}
	return n
}

// IsTerminal reports whether control flow cannot fall off the end of this
// instruction into whatever follows it in memory. RET and unconditional
// JMP do not fall through; everything else, including CALL, does.
func (in Inst) IsTerminal() bool {
	switch in.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP:
		return true
	}
	return false
}

// IsBranch reports whether the instruction transfers control relative to
// the instruction pointer: conditional and unconditional jumps, loop
// instructions, and the small set of other relative-branch opcodes.
func (in Inst) IsBranch() bool {
	switch in.Op {
	case x86asm.JMP, x86asm.LJMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE,
		x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ,
		x86asm.JS, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE, x86asm.XBEGIN,
		x86asm.CALL:
		return true
	}
	return false
}

// HasPositionDependentOperand reports whether the instruction references
// a location relative to its own address: a relative branch displacement
// or (64-bit only) a RIP-relative memory operand. Both use the same
// PCRel/PCRelOff mechanism in x86asm, so both are handled by the same
// Displacement/SetDisplacement pair.
func (in Inst) HasPositionDependentOperand() bool {
	return in.PCRel != 0
}

// HasRelativeBranchDisplacement reports whether the position-dependent
// operand, if any, is a branch target rather than a RIP-relative data
// reference. Branch displacements can be extended with a jump-assist
// stub when they no longer reach; RIP-relative data references cannot.
func (in Inst) HasRelativeBranchDisplacement() bool {
	if !in.HasPositionDependentOperand() {
		return false
	}
	return in.IsBranch()
}

// IsRIPRelativeData reports whether the instruction's position-dependent
// operand is a RIP-relative memory reference (load/store of data, not a
// branch target).
func (in Inst) IsRIPRelativeData() bool {
	return in.HasPositionDependentOperand() && !in.IsBranch()
}

// DisplacementWidthBits returns the bit width of the position-dependent
// field: 8, 16, or 32.
func (in Inst) DisplacementWidthBits() int {
	return in.PCRel * 8
}

// Displacement returns the raw signed displacement value currently
// encoded in the instruction's position-dependent field.
func (in Inst) Displacement() (int64, error) {
	if !in.HasPositionDependentOperand() {
		return 0, ErrNoDisplacement
	}
	off := in.PCRelOff
	width := in.PCRel
	if off < 0 || off+width > len(in.raw) {
		return 0, fmt.Errorf("xinstr: displacement field out of range")
	}
	var v int64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | int64(in.raw[off+i])
	}
	// sign extend
	shift := uint(64 - width*8)
	return v << shift >> shift, nil
}

// AbsoluteTarget returns the absolute address the position-dependent
// operand resolves to, given the address the instruction itself starts
// at (instAddr).
func (in Inst) AbsoluteTarget(instAddr uintptr) (uintptr, error) {
	disp, err := in.Displacement()
	if err != nil {
		return 0, err
	}
	return uintptr(int64(instAddr) + int64(in.Len) + disp), nil
}

// SetDisplacement overwrites the position-dependent field in place with
// newValue, which must fit within the field's original bit width. The
// field width never changes: this is a byte-level patch of the existing
// encoding, not a re-encode.
func (in Inst) SetDisplacement(newValue int64) error {
	if !in.HasPositionDependentOperand() {
		return ErrNoDisplacement
	}
	width := in.PCRel
	lo, hi := displacementRange(width)
	if newValue < lo || newValue > hi {
		return ErrDisplacementOverflow
	}
	off := in.PCRelOff
	u := uint64(newValue)
	for i := 0; i < width; i++ {
		in.raw[off+i] = byte(u)
		u >>= 8
	}
	return nil
}

// Retarget rewrites the instruction's position-dependent field so that,
// once relocated to newInstAddr, it still resolves to the same absolute
// target it resolved to at oldInstAddr.
func (in Inst) Retarget(oldInstAddr, newInstAddr uintptr) error {
	target, err := in.AbsoluteTarget(oldInstAddr)
	if err != nil {
		return err
	}
	newDisp := int64(target) - int64(newInstAddr) - int64(in.Len)
	return in.SetDisplacement(newDisp)
}

func displacementRange(widthBytes int) (lo, hi int64) {
	bits := uint(widthBytes*8 - 1)
	hi = 1<<bits - 1
	lo = -(1 << bits)
	return lo, hi
}

// CanReach reports whether a 32-bit relative jump placed at from can
// reach to: the signed displacement to - (from + JumpLen) must fit in
// an int32. The test is the same on 32-bit targets, so it is false there
// too when from and to lie more than 2GiB apart.
func CanReach(from, to uintptr) bool {
	disp := int64(to) - int64(from) - int64(JumpLen)
	return disp >= -1<<31 && disp <= 1<<31-1
}

// EncodeJump writes a 5-byte E9 rel32 instruction into buf (which must be
// at least JumpLen bytes) that jumps from address from to address to.
// CanReach(from, to) must hold.
func EncodeJump(buf []byte, from, to uintptr) error {
	if len(buf) < JumpLen {
		return fmt.Errorf("xinstr: buffer too small for jump instruction")
	}
	if !CanReach(from, to) {
		return fmt.Errorf("xinstr: target unreachable by rel32 jump")
	}
	disp := int32(int64(to) - int64(from) - int64(JumpLen))
	buf[0] = 0xe9
	buf[1] = byte(disp)
	buf[2] = byte(disp >> 8)
	buf[3] = byte(disp >> 16)
	buf[4] = byte(disp >> 24)
	return nil
}

// FillNop fills buf entirely with single-byte NOP (0x90) instructions.
func FillNop(buf []byte) {
	for i := range buf {
		buf[i] = 0x90
	}
}
