// Package memutil provides raw views into process memory addressed by
// uintptr. It exists because the hooking engine must read and write bytes
// at addresses handed to it as plain machine-code pointers, not as Go
// values with their own memory management.
package memutil

import "unsafe"

// View returns a byte slice aliasing length bytes starting at addr. The
// caller is responsible for ensuring addr is readable (and, for writes,
// writable) for the requested length; this package performs no bounds or
// protection checks of its own.
func View(addr uintptr, length int) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// Copy copies src into the memory starting at dst. The destination range
// must already be writable.
func Copy(dst uintptr, src []byte) {
	copy(View(dst, len(src)), src)
}
