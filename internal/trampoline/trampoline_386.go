//go:build 386

package trampoline

// On 32-bit targets every address fits in 32 bits, so the hook stub is
// a direct relative jump, no pointer indirection needed:
//
//	66 66 66 66 66 66 66 66 90    9-byte nop (alignment filler)
//	66 90                         2-byte nop (alignment filler)
//	e9 xx xx xx xx                jmp rel32 -> replacement function
var hookPreamble = []byte{
	0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x90,
	0x66, 0x90,
}

const (
	hookRegionBytes = 16
	origRegionBytes = 48
)

// encodeHookValue writes the rel32 displacement for the jmp at the end
// of hookPreamble, computed from the trampoline's own address (the jump
// lives inside it) to hookFuncAddr.
func encodeHookValue(buf []byte, trampolineAddr, hookFuncAddr uintptr) {
	jmpOff := len(hookPreamble)
	buf[jmpOff] = 0xe9
	disp := int32(int64(hookFuncAddr) - int64(trampolineAddr) - int64(jmpOff) - 5)
	buf[jmpOff+1] = byte(disp)
	buf[jmpOff+2] = byte(disp >> 8)
	buf[jmpOff+3] = byte(disp >> 16)
	buf[jmpOff+4] = byte(disp >> 24)
}
