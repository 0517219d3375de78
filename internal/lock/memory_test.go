package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		TTL:            200 * time.Millisecond,
		AcquireTimeout: 100 * time.Millisecond,
		RetryInterval:  5 * time.Millisecond,
	}
}

func TestMemoryLockerAcquireRelease(t *testing.T) {
	l := NewMemoryLocker(testOptions())
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))

	// Released, so a second acquire succeeds immediately.
	lease2, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker(testOptions())
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)
	defer lease.Release(ctx)

	_, err = l.Acquire(ctx, "series-a")
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestMemoryLockerIndependentSeries(t *testing.T) {
	l := NewMemoryLocker(testOptions())
	ctx := context.Background()

	leaseA, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)
	defer leaseA.Release(ctx)

	// A held lease on one series never blocks another series.
	leaseB, err := l.Acquire(ctx, "series-b")
	require.NoError(t, err)
	defer leaseB.Release(ctx)
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	opts := testOptions()
	opts.TTL = 20 * time.Millisecond
	l := NewMemoryLocker(opts)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// Expired lease: a new holder takes over without an explicit release.
	fresh, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)
	defer fresh.Release(ctx)

	// The stale holder lost the lease and cannot renew or release it.
	assert.ErrorIs(t, stale.Renew(ctx), ErrNotHeld)
	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
}

func TestMemoryLockerRenewExtendsTTL(t *testing.T) {
	opts := testOptions()
	opts.TTL = 50 * time.Millisecond
	l := NewMemoryLocker(opts)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, lease.Renew(ctx))
	}

	// Still held well past the original TTL.
	_, err = l.Acquire(ctx, "series-a")
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	require.NoError(t, lease.Release(ctx))
}

func TestMemoryLockerDoubleReleaseFails(t *testing.T) {
	l := NewMemoryLocker(testOptions())
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "series-a")
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
}

func TestMemoryLockerAcquireRespectsContext(t *testing.T) {
	opts := testOptions()
	opts.AcquireTimeout = 10 * time.Second
	l := NewMemoryLocker(opts)

	lease, err := l.Acquire(context.Background(), "series-a")
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Acquire(ctx, "series-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMemoryLockerContention(t *testing.T) {
	opts := testOptions()
	opts.AcquireTimeout = 2 * time.Second
	l := NewMemoryLocker(opts)

	const goroutines = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxHeld int
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			lease, err := l.Acquire(context.Background(), "series-a")
			if err != nil {
				return
			}

			mu.Lock()
			holders++
			if holders > maxHeld {
				maxHeld = holders
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			lease.Release(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHeld, "at most one holder at a time")
}
