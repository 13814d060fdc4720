package agent

import (
	"context"
	"sync"
)

// KeyedLock serializes work per key. Waiters acquire in the order they
// called Lock.
type KeyedLock struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch      chan struct{} // holds one token while the key is locked
	waiters int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free or ctx is done. On success the returned
// func releases the key.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() { l.release(key, s) }, nil
	case <-ctx.Done():
		l.mu.Lock()
		l.drop(key, s)
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (l *KeyedLock) release(key string, s *keySlot) {
	l.mu.Lock()
	<-s.ch
	l.drop(key, s)
	l.mu.Unlock()
}

// drop forgets the slot once nobody holds or waits for it. Caller holds l.mu.
func (l *KeyedLock) drop(key string, s *keySlot) {
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
