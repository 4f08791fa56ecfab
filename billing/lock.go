package billing

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// LOCKER - One mutating operation per (school, season) at a time
// =============================================================================

// Locker serializes mutating operations on a key. Lock blocks until the key
// is free or ctx is done; in the latter case it returns an error wrapping
// ErrLockTimeout. The returned unlock func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PairKey builds the lock key for a (school, season) pair.
func PairKey(schoolID SchoolID, seasonID SeasonID) string {
	return fmt.Sprintf("tuition:school:%s:season:%s:lock", schoolID, seasonID)
}

// KeyedMutex is an in-process Locker. Keys that nobody holds or waits on are
// dropped so the map doesn't grow with every pair ever touched.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
