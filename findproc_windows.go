package redjmp

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// findProc resolves funcName's address within dllName, loading the
// library if it is not already mapped into the process.
func findProc(dllName, funcName string) (uintptr, error) {
	dll := windows.NewLazySystemDLL(dllName)
	proc := dll.NewProc(funcName)
	if err := proc.Find(); err != nil {
		return 0, fmt.Errorf("redjmp: resolve %s!%s: %w", dllName, funcName, err)
	}
	return proc.Addr(), nil
}
