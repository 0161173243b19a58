package backup

import "sync"

// lockTable serializes backup runs per database within this process.
// TryAcquire never blocks: a held lock means a run is already active
// and the new one must be refused.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// TryAcquire claims the lock for the given id. The returned release
// function must be called exactly once when acquisition succeeded.
func (t *lockTable) TryAcquire(id string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.held[id]; exists {
		return nil, false
	}
	t.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, id)
			t.mu.Unlock()
		})
	}, true
}

// Held reports whether a run currently owns the lock for id
func (t *lockTable) Held(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.held[id]
	return exists
}
