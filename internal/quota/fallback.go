package quota

import "sync"

// fallbackLocks hands out one mutex per key.  It replaces the external
// lock backend for quotas in degraded mode, where serializing within
// the local process is the best that can be done.
type fallbackLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFallbackLocks() *fallbackLocks {
	return &fallbackLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a key, creating it on first use.  Mutexes
// are never removed; the key space is bounded by the number of quotas.
func (f *fallbackLocks) get(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	return m
}
