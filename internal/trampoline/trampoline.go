// Package trampoline builds and manages individual 64-byte trampolines:
// a fixed-size slot of executable memory that holds an architecture-
// specific stub reaching the caller's replacement function, followed by
// a relocated copy of the hooked function's displaced prologue so the
// original behavior remains callable after the hook is installed.
package trampoline

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/redjmp/redjmp/internal/memutil"
	"github.com/redjmp/redjmp/internal/winapi"
	"github.com/redjmp/redjmp/internal/xinstr"
	"github.com/redjmp/redjmp/internal/xlog"
)

// Size is the fixed size of every trampoline slot: a hook region
// followed by a relocated-original region.
const Size = hookRegionBytes + origRegionBytes

const fillByte = 0xcc

// readWindow bounds how far past a function's entry point SetOriginal
// will read while looking for enough whole instructions to host the
// redirect jump. It is generous relative to the 5 bytes actually needed
// so that a handful of long instructions or padding NOPs are tolerated,
// while staying short enough that it never runs past the end of a
// realistically short function.
const readWindow = 32

var (
	// ErrUnreachable means the trampoline sits further than a rel32
	// displacement from the function being hooked.
	ErrUnreachable = errors.New("trampoline: not reachable by a near jump from the hook target")
	// ErrCannotRelocate means some instruction in the displaced prologue
	// could not be moved into the trampoline body.
	ErrCannotRelocate = errors.New("trampoline: cannot relocate original function prologue")
)

// Trampoline wraps one fixed-size slot of executable memory.
type Trampoline struct {
	addr uintptr
	buf  []byte

	original uintptr
	patchLen int
}

// New wraps a trampoline around a freshly allocated slot at addr. The
// slot is reset to its default, unconfigured contents.
func New(addr uintptr) *Trampoline {
	t := &Trampoline{addr: addr, buf: memutil.View(addr, Size)}
	t.Reset()
	return t
}

// Addr is the trampoline's own address.
func (t *Trampoline) Addr() uintptr { return t.addr }

// HookRegionAddr is the address the universal E9 rel32 redirect written
// at the hooked function's entry point must target. It is always the
// trampoline's own address: the hook region sits at the front of the
// slot.
func (t *Trampoline) HookRegionAddr() uintptr { return t.addr }

// OriginalRegionAddr is the address of the relocated prologue, the
// address the caller should invoke to run the original function.
func (t *Trampoline) OriginalRegionAddr() uintptr { return t.addr + hookRegionBytes }

// OriginalFunc returns the address of the function this trampoline was
// built from, or 0 if SetOriginal has not been called.
func (t *Trampoline) OriginalFunc() uintptr { return t.original }

// PatchLen returns how many bytes at the original function's entry
// point must be overwritten by the redirect jump, or 0 if SetOriginal
// has not been called.
func (t *Trampoline) PatchLen() int { return t.patchLen }

// Reset discards any relocated prologue and fills the whole slot with
// the architecture's default hook preamble followed by INT3 filler.
func (t *Trampoline) Reset() {
	copy(t.buf[:hookRegionBytes], hookPreamble)
	for i := len(hookPreamble); i < hookRegionBytes; i++ {
		t.buf[i] = fillByte
	}
	for i := hookRegionBytes; i < Size; i++ {
		t.buf[i] = fillByte
	}
	t.original = 0
	t.patchLen = 0
}

// SetHookFunction points the trampoline's internal stub at hookFuncAddr,
// the caller's replacement function.
func (t *Trampoline) SetHookFunction(hookFuncAddr uintptr) error {
	copy(t.buf[:len(hookPreamble)], hookPreamble)
	encodeHookValue(t.buf[:hookRegionBytes], t.addr, hookFuncAddr)
	return winapi.FlushInstructionCache(t.addr, hookRegionBytes)
}

// SetOriginal relocates originalFuncAddr's displaced prologue into the
// trampoline's original-function region, so that code calling through
// OriginalRegionAddr still observes the function's unmodified behavior.
//
// The algorithm: decode instructions from the function's entry point
// until their combined length reaches xinstr.JumpLen (enough room for
// the redirect jump that will be written over them), copy each one
// into the trampoline body at the same relative offset it held in the
// original (so the copy never changes any instruction's length), and
// fix up any operand that referenced memory relative to its own
// address. A position-dependent operand whose absolute target falls
// inside the relocated range needs no fixup at all: every relocated
// instruction moves by the same constant offset, so a displacement
// that already resolves to another transplanted byte still resolves
// correctly once both ends have moved together. A branch displacement
// that no longer reaches gets a jump assist instead: a small stub
// reserved at the tail of the region that extends the reach to a full
// rel32. A RIP-relative data reference that no longer reaches cannot be
// fixed this way and fails the hook. If a terminal instruction is
// reached before 5 bytes accumulate and a run of at least 3 identical
// filler bytes follows that is also long enough to cover the shortfall,
// the shortfall is absorbed into the patch length without
// copying that filler into the trampoline. If the last copied
// instruction can fall through, a closing jump back into the unmodified
// remainder of the original function is appended.
func (t *Trampoline) SetOriginal(originalFuncAddr uintptr, mode xinstr.Mode) error {
	if !xinstr.CanReach(originalFuncAddr, t.addr) {
		return fmt.Errorf("%w: redirect at %#x cannot reach trampoline at %#x", ErrUnreachable, originalFuncAddr, t.addr)
	}

	debug := xlog.DebugEnabled()
	log := xlog.Logger()
	if debug {
		log.WithField("target", fmt.Sprintf("%#x", originalFuncAddr)).Debug("relocating prologue")
	}

	// live aliases the target function's own bytes; it is only ever read
	// from here on. Decoding and displacement patching both operate on
	// scratch, a private copy, so nothing touches the target's (normally
	// read-only) .text bytes until redirectExecution later unprotects and
	// overwrites them with the redirect jump.
	live := memutil.View(originalFuncAddr, readWindow)
	scratch := make([]byte, len(live))
	copy(scratch, live)

	var insts []xinstr.Inst
	total := 0
	for total < xinstr.JumpLen {
		if total >= len(scratch) {
			return fmt.Errorf("%w: ran out of decode window before gathering %d bytes", ErrCannotRelocate, xinstr.JumpLen)
		}
		in, err := xinstr.Decode(scratch[total:], mode)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCannotRelocate, err)
		}
		if debug {
			log.Debugf("decoded %s", in.String())
		}
		insts = append(insts, in)
		total += in.Len
		if in.IsTerminal() {
			break
		}
	}
	if total < xinstr.JumpLen {
		// The prologue ended (hit a terminal instruction) before enough
		// bytes were gathered to host the redirect jump. If what follows
		// is a run of identical filler bytes (nop or int3) long enough to
		// cover the shortfall, absorb it: those bytes are never executed
		// after a terminal instruction, so they are overwritten by the
		// jump but never transplanted into the trampoline body.
		const minPaddingRun = 3
		shortfall := xinstr.JumpLen - total
		run := xinstr.PaddingRunLength(scratch[total:])
		if run < minPaddingRun || run < shortfall {
			return fmt.Errorf("%w: prologue too short to host the redirect jump", ErrCannotRelocate)
		}
		if debug {
			log.WithFields(logrus.Fields{"shortfall": shortfall, "run": run}).Debug("absorbing trailing padding into patch length")
		}
		total = xinstr.JumpLen
	}

	body := t.buf[hookRegionBytes:]
	bodyLimit := len(body) - xinstr.JumpLen // reserve tail for a possible jump assist
	assistUsed := false

	offset := 0
	for _, in := range insts {
		oldAddr := originalFuncAddr + uintptr(offset)
		newAddr := t.addr + uintptr(hookRegionBytes+offset)

		if offset+in.Len > len(body) {
			return fmt.Errorf("%w: relocated prologue overflows trampoline body", ErrCannotRelocate)
		}

		if in.HasPositionDependentOperand() {
			target, err := in.AbsoluteTarget(oldAddr)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCannotRelocate, err)
			}
			if target >= originalFuncAddr && target < originalFuncAddr+uintptr(total) {
				// The target is itself one of the bytes being transplanted.
				// Every relocated instruction moves by the same constant
				// delta (the body's address minus originalFuncAddr), so the displacement that
				// already resolves to it at the original address resolves
				// to the same relocated instruction once moved; leave it
				// untouched.
				if debug {
					log.WithField("target", fmt.Sprintf("%#x", target)).Debug("branch target falls inside relocated range, displacement unchanged")
				}
			} else if err := in.Retarget(oldAddr, newAddr); err != nil {
				if !errors.Is(err, xinstr.ErrDisplacementOverflow) || !in.HasRelativeBranchDisplacement() || assistUsed {
					return fmt.Errorf("%w: %v", ErrCannotRelocate, err)
				}
				assistOff := len(body) - xinstr.JumpLen
				if offset+in.Len > assistOff {
					return fmt.Errorf("%w: no room left for jump assist", ErrCannotRelocate)
				}
				assistUsed = true
				assistAddr := t.addr + uintptr(hookRegionBytes+assistOff)
				if err := xinstr.EncodeJump(body[assistOff:assistOff+xinstr.JumpLen], assistAddr, target); err != nil {
					return fmt.Errorf("%w: jump assist: %v", ErrCannotRelocate, err)
				}
				assistDisp := int64(assistAddr) - int64(newAddr) - int64(in.Len)
				if err := in.SetDisplacement(assistDisp); err != nil {
					return fmt.Errorf("%w: jump assist unreachable from relocated branch: %v", ErrCannotRelocate, err)
				}
				bodyLimit = assistOff
				if debug {
					log.WithField("assist", fmt.Sprintf("%#x", assistAddr)).Debug("installed jump assist for unreachable branch displacement")
				}
			}
		}

		copy(body[offset:offset+in.Len], in.Bytes())
		offset += in.Len
		if offset > bodyLimit {
			return fmt.Errorf("%w: relocated prologue overflows trampoline body", ErrCannotRelocate)
		}
	}

	if last := insts[len(insts)-1]; !last.IsTerminal() {
		if offset+xinstr.JumpLen > bodyLimit {
			return fmt.Errorf("%w: no room for closing jump back to the original function", ErrCannotRelocate)
		}
		closeFrom := t.addr + uintptr(hookRegionBytes+offset)
		closeTo := originalFuncAddr + uintptr(total)
		if err := xinstr.EncodeJump(body[offset:offset+xinstr.JumpLen], closeFrom, closeTo); err != nil {
			return fmt.Errorf("%w: closing jump: %v", ErrCannotRelocate, err)
		}
		if debug {
			log.WithField("to", fmt.Sprintf("%#x", closeTo)).Debug("appended closing jump back to original function")
		}
	}

	t.original = originalFuncAddr
	t.patchLen = total
	return winapi.FlushInstructionCache(t.addr+hookRegionBytes, origRegionBytes)
}
