// Package locks provides per-key serialization for vehicle-scoped state.
// Operations on distinct keys proceed in parallel; there is no global lock.
package locks

import "sync"

// KeyedMutex hands out one mutex per key. Mutexes are created on first use
// and retained for the life of the process; the key space (vehicle and rule
// identifiers) is small and bounded in practice.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty lock arena.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns the unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &sync.Mutex{}
		k.entries[key] = entry
	}
	k.mu.Unlock()

	entry.Lock()
	return entry.Unlock
}

// TryLock acquires the mutex for key without blocking. It returns the unlock
// function and true on success, or nil and false when the key is held.
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &sync.Mutex{}
		k.entries[key] = entry
	}
	k.mu.Unlock()

	if !entry.TryLock() {
		return nil, false
	}
	return entry.Unlock, true
}
