// Package keylock serializes logical operations that read-modify-write the
// same session or identity row, without a global lock across unrelated keys.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex is a set of named mutexes. Locks for distinct keys are independent;
// entries are dropped once the last holder releases them.
type Mutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Mutex {
	return &Mutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the release function. The
// release function must be called on every exit path.
func (m *Mutex) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}
