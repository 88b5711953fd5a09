package server

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out one mutex per session id. Entries are removed once no
// request holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

func (t *lockTable) acquire(id string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.locks[id]
	if !ok {
		entry = &lockEntry{}
		t.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (t *lockTable) release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(t.locks, id)
	}
}

// with runs fn while holding the lock for id.
func (t *lockTable) with(id string, fn func() error) error {
	entry := t.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		t.release(id)
	}()
	return fn()
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
