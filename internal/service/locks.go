package service

import "sync"

// InstanceLocks serializes work per instance: two units of work touching
// the same instance (a webhook-driven provision and an admin restart, say)
// must not interleave container, routing and ledger mutations. Work on
// different instances proceeds concurrently.
type InstanceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutual-exclusion scope for one instance and returns
// the release function.
func (l *InstanceLocks) Lock(instanceID string) func() {
	l.mu.Lock()
	m, ok := l.locks[instanceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[instanceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
