package locks

import (
	"sync"
)

// Map hands out one mutex per key, created on first use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key (creates if needed).
func (m *Map) Get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[key] = l
	return l
}

// Lock locks key and returns the matching unlock.
func (m *Map) Lock(key string) func() {
	l := m.Get(key)
	l.Lock()
	return l.Unlock
}
