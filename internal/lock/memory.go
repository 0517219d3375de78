package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker in-process, for single-node deployments
// without Redis and for tests. Semantics mirror RedisLocker: per-series
// keying, TTL expiry, token-checked release.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]memHolder
	opts    Options
}

type memHolder struct {
	token   string
	expires time.Time
}

func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{
		holders: make(map[string]memHolder),
		opts:    opts.withDefaults(),
	}
}

func (l *MemoryLocker) tryAcquire(seriesID, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, held := l.holders[seriesID]
	if held && time.Now().Before(h.expires) {
		return false
	}
	l.holders[seriesID] = memHolder{token: token, expires: time.Now().Add(l.opts.TTL)}
	return true
}

func (l *MemoryLocker) Acquire(ctx context.Context, seriesID string) (Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.AcquireTimeout)

	for {
		if l.tryAcquire(seriesID, token) {
			return &memLease{locker: l, seriesID: seriesID, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.opts.RetryInterval):
		}
	}
}

type memLease struct {
	locker   *MemoryLocker
	seriesID string
	token    string
}

func (le *memLease) Renew(ctx context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()

	h, held := le.locker.holders[le.seriesID]
	if !held || h.token != le.token || time.Now().After(h.expires) {
		return ErrNotHeld
	}
	le.locker.holders[le.seriesID] = memHolder{token: le.token, expires: time.Now().Add(le.locker.opts.TTL)}
	return nil
}

func (le *memLease) Release(ctx context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()

	h, held := le.locker.holders[le.seriesID]
	if !held || h.token != le.token {
		return ErrNotHeld
	}
	delete(le.locker.holders, le.seriesID)
	return nil
}
