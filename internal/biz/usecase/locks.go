package usecase

import "sync"

// KeyedLock hands out at most one holder per customer id
type KeyedLock struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewKeyedLock creates a keyed lock
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[int64]struct{})}
}

// TryLock takes the lock for id without waiting.
// ok is false when another worker already holds it.
func (l *KeyedLock) TryLock(id int64) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return nil, false
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, true
}

// Held returns the number of ids currently locked
func (l *KeyedLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
