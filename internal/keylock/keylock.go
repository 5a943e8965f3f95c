// Package keylock provides per-key mutual exclusion for serializing
// operations on the same logical record.
package keylock

import "sync"

// KeyLock hands out one critical section per string key. Locks are created
// on demand and released when no goroutine holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock acquires the critical section for key, blocking until it is free.
func (k *KeyLock) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the critical section for key. Calling Unlock for a key that
// is not locked is a programming error, as with sync.Mutex.
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
