package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestSameKeySerializes(t *testing.T) {
	locks := New()

	const workers = 50
	var counter int // guarded by the "shared" key lock only

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("shared")
			defer locks.Unlock("shared")
			// Read-modify-write with a window; only mutual exclusion keeps
			// this race free.
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	locks := New()

	locks.Lock("a")
	defer locks.Unlock("a")

	done := make(chan struct{})
	go func() {
		locks.Lock("b")
		locks.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestEntriesAreReleased(t *testing.T) {
	locks := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, key := range []string{"x", "y", "z"} {
				locks.Lock(key)
				locks.Unlock(key)
			}
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("%d entries left after all locks released", len(locks.locks))
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	locks := New()

	locks.Lock("k")
	locks.Unlock("k")
	locks.Lock("k")
	locks.Unlock("k")
}
