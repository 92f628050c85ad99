package worker

import "sync"

// sharedRegistry holds named synchronization primitives that worker
// functions running on the pool can use to coordinate state across
// slots — the in-process Go analogue of cross-process named locks,
// shared counters, and shared arrays.
type sharedRegistry struct {
	mu       sync.Mutex
	mutexes  map[string]*sync.Mutex
	counters map[string]*int64
	arrays   map[string][]float64
}

func newSharedRegistry() *sharedRegistry {
	return &sharedRegistry{
		mutexes:  make(map[string]*sync.Mutex),
		counters: make(map[string]*int64),
		arrays:   make(map[string][]float64),
	}
}

// NamedMutex returns the mutex registered under name, creating it on
// first use.
func (p *Pool) NamedMutex(name string) *sync.Mutex {
	r := p.shared
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mutexes[name]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.mutexes[name] = m
	return m
}

// NamedCounter returns the shared counter registered under name,
// creating it (initialized to 0) on first use. Callers mutate it with
// sync/atomic.
func (p *Pool) NamedCounter(name string) *int64 {
	r := p.shared
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	var v int64
	r.counters[name] = &v
	return &v
}

// SharedArray returns the shared array registered under name, creating
// it with the given size (zero-filled) on first use. Subsequent calls
// with the same name ignore size and return the existing array.
func (p *Pool) SharedArray(name string, size int) []float64 {
	r := p.shared
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.arrays[name]; ok {
		return a
	}
	a := make([]float64, size)
	r.arrays[name] = a
	return a
}
