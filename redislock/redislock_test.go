package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/billing"
)

func newTestLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, append([]Option{WithRetryInterval(5 * time.Millisecond)}, opts...)...), mr
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	l, mr := newTestLocker(t)
	key := billing.PairKey("school-1", "season-1")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	unlock()
	assert.False(t, mr.Exists(key))

	// Calling unlock again is harmless.
	unlock()
}

func TestLocker_SecondHolderWaitsForContext(t *testing.T) {
	l, _ := newTestLocker(t)
	key := billing.PairKey("school-1", "season-1")

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrLockTimeout))
	assert.True(t, billing.IsRetryable(err))
}

func TestLocker_DifferentPairsDoNotBlock(t *testing.T) {
	l, _ := newTestLocker(t)

	unlockA, err := l.Lock(context.Background(), billing.PairKey("school-1", "season-1"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, billing.PairKey("school-2", "season-1"))
	require.NoError(t, err)
	unlockB()
}

func TestLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	l, mr := newTestLocker(t, WithTTL(time.Second))
	key := billing.PairKey("school-1", "season-1")

	unlockOld, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))

	unlockNew, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	newToken, err := mr.Get(key)
	require.NoError(t, err)

	// GIVEN the old holder releases after its TTL elapsed
	unlockOld()

	// THEN the new holder still owns the key
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, newToken, got)

	unlockNew()
	assert.False(t, mr.Exists(key))
}

func TestLocker_MutualExclusion(t *testing.T) {
	l, _ := newTestLocker(t)
	key := billing.PairKey("school-1", "season-1")

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}
