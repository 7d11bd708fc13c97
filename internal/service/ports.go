package service

import (
	"context"
	"fmt"
	"sync"
)

// PortAllocator hands out host ports from a fixed inclusive range. The
// scan-then-assign is serialized by an in-process mutex (the orchestrator
// runs as a single instance); the ledger's uniqueness constraint on live
// ports is the backstop.
type PortAllocator struct {
	mu    sync.Mutex
	start int
	end   int
	store InstanceStore
}

func NewPortAllocator(start, end int, store InstanceStore) *PortAllocator {
	return &PortAllocator{start: start, end: end, store: store}
}

// Allocate returns the instance's port, assigning the first free port in
// the range if it has none yet. Idempotent: an instance that already holds
// a port keeps it.
func (a *PortAllocator) Allocate(ctx context.Context, instanceID string, current int) (int, error) {
	if current != 0 {
		return current, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	used, err := a.store.UsedPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load used ports: %w", err)
	}

	inUse := make(map[int]bool, len(used))
	for _, p := range used {
		inUse[p] = true
	}

	for port := a.start; port <= a.end; port++ {
		if inUse[port] {
			continue
		}
		if err := a.store.AssignPort(ctx, instanceID, port); err != nil {
			return 0, fmt.Errorf("persist port %d: %w", port, err)
		}
		return port, nil
	}

	return 0, ErrPortsExhausted
}
