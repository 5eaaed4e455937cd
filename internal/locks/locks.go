// internal/locks/locks.go

// Package locks provides mutexes keyed by string, used to serialize lifecycle
// operations per repository and mutations per worktree path.
package locks

import "sync"

// Keyed hands out one mutex per key. Mutexes are never discarded; the key
// space (repositories, worktree paths) is small and long-lived.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

func (k *Keyed) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for key, blocking until it is free.
func (k *Keyed) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key.
func (k *Keyed) Unlock(key string) {
	k.get(key).Unlock()
}

// TryLock acquires the mutex for key without blocking.
func (k *Keyed) TryLock(key string) bool {
	return k.get(key).TryLock()
}
