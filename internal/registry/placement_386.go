//go:build 386

package registry

import (
	"fmt"

	"github.com/redjmp/redjmp/internal/trampoline"
	"github.com/redjmp/redjmp/internal/xinstr"
)

// storeFor returns a trampoline store reachable from target. On a
// 32-bit target every address already fits in the same 32-bit space a
// rel32 displacement can express, modulo the pathological case of a
// target and trampoline sitting at opposite extremes of the address
// space, so placement just grows the arena on demand without the
// module-relative search 64-bit targets require.
func (r *Registry) storeFor(target uintptr) (*trampoline.Store, error) {
	if n := len(r.stores); n > 0 {
		last := r.stores[n-1]
		if !last.Full() && xinstr.CanReach(target, last.Base()) {
			return last, nil
		}
	}

	store, err := trampoline.NewStore(0)
	if err != nil {
		return nil, fmt.Errorf("registry: allocate trampoline store: %w", err)
	}
	if !xinstr.CanReach(target, store.Base()) {
		store.Close()
		return nil, fmt.Errorf("registry: allocated store at %#x cannot reach target %#x", store.Base(), target)
	}
	r.stores = append(r.stores, store)
	return store, nil
}
