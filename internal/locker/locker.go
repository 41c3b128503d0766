package locker

import "sync"

// Locker is an in-process set of held keys. It never blocks: callers that
// lose the race are told so and must retry later.
type Locker struct {
	mu     sync.Mutex
	holder map[string]string
}

func New() *Locker {
	return &Locker{
		holder: make(map[string]string),
	}
}

// TryLock marks key as held by owner. It returns false, and the current
// owner, when the key is already held.
func (l *Locker) TryLock(key, owner string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.holder[key]; ok {
		return false, cur
	}
	l.holder[key] = owner
	return true, owner
}

// Unlock releases key only if owner still holds it.
func (l *Locker) Unlock(key, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder[key] == owner {
		delete(l.holder, key)
	}
}
