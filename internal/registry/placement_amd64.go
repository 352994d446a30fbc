//go:build amd64

package registry

import (
	"fmt"

	"github.com/redjmp/redjmp/internal/trampoline"
	"github.com/redjmp/redjmp/internal/winapi"
	"github.com/redjmp/redjmp/internal/xinstr"
)

// maxPlacementAttempts bounds how many candidate addresses storeFor will
// probe before giving up. Each attempt steps one store-size (one page)
// closer to the bottom of the address space, so this also bounds how
// far below the target module a store can end up.
const maxPlacementAttempts = (1<<31 - 1) / trampoline.StoreSizeBytes / 4

// storeFor returns a trampoline store reachable from target by a rel32
// jump, reusing the most recently created store when it still has room
// and still reaches, or allocating a new one near target's module
// otherwise. On 64-bit this reachability constraint is the entire
// reason a dedicated placement strategy exists: a trampoline anywhere
// in the address space is not usable, only one within +/-2GiB of the
// function it services.
func (r *Registry) storeFor(target uintptr) (*trampoline.Store, error) {
	if n := len(r.stores); n > 0 {
		last := r.stores[n-1]
		if !last.Full() && xinstr.CanReach(target, last.Base()) {
			return last, nil
		}
	}

	base, err := winapi.ModuleBaseContaining(target)
	if err != nil {
		base = target
	}

	candidate := base &^ uintptr(trampoline.StoreSizeBytes-1)
	for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
		candidate -= uintptr(trampoline.StoreSizeBytes)
		if !xinstr.CanReach(target, candidate) {
			break
		}
		store, err := trampoline.NewStore(candidate)
		if err != nil {
			continue
		}
		if !xinstr.CanReach(target, store.Base()) {
			store.Close()
			continue
		}
		r.stores = append(r.stores, store)
		return store, nil
	}
	return nil, fmt.Errorf("registry: no reachable address found for a trampoline store near %#x", target)
}
