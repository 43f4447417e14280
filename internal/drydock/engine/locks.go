package engine

import "sync"

// idLocks serializes operations targeting the same sandbox ID so that e.g.
// a start cannot race a delete at the adapter level. Operations on distinct
// IDs proceed fully in parallel.
//
// Lock entries are never removed; the map grows with the number of distinct
// sandbox IDs seen by this process, which is bounded by sandbox churn and
// small compared to the containers themselves.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for id and returns the unlock function.
func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
