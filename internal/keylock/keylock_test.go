package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("client:1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestLockIndependentKeys(t *testing.T) {
	m := New()
	unlockA := m.Lock("server:1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("server:2")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key should not block")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New()
	unlock := m.Lock("k")
	unlock()
	unlock() // second call must be a no-op

	done := make(chan struct{})
	go func() {
		u := m.Lock("k")
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key should be reacquirable after release")
	}
}

func TestEntriesAreDropped(t *testing.T) {
	m := New()
	unlock := m.Lock("ephemeral")
	unlock()
	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}
