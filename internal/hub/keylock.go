package hub

import (
	"sync"

	"github.com/rickgao/cryptodash/internal/model"
)

// keyLock is a mutex per channel key. Entries are reference counted and
// removed when no goroutine holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[model.ChannelKey]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[model.ChannelKey]*keyLockEntry)}
}

func (l *keyLock) Lock(key model.ChannelKey) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyLockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

func (l *keyLock) Unlock(key model.ChannelKey) {
	l.mu.Lock()
	e := l.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}

// size returns the number of live entries.
func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
