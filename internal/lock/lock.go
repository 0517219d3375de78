// Package lock serializes occurrence creation per series. Locks are keyed by
// series ID only, so independent series never contend and there is no global
// ordering to deadlock on. Leases are time-bounded: a crashed holder cannot
// wedge a series past the TTL.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAcquireTimeout is returned when the lease could not be acquired
	// within the configured bound. Callers may retry with backoff.
	ErrAcquireTimeout = errors.New("lock: acquire timed out")
	// ErrNotHeld is returned when renewing or releasing a lease that has
	// expired or was taken over by another holder.
	ErrNotHeld = errors.New("lock: lease not held")
)

// Lease is an exclusive, time-bounded hold on one series.
type Lease interface {
	// Renew extends the lease TTL. Fails with ErrNotHeld once expired.
	Renew(ctx context.Context) error
	// Release drops the lease. Only the holder's token can release.
	Release(ctx context.Context) error
}

// Locker hands out per-series leases.
type Locker interface {
	Acquire(ctx context.Context, seriesID string) (Lease, error)
}

// Options bound lease lifetime and acquisition.
type Options struct {
	TTL            time.Duration // lease duration before expiry
	AcquireTimeout time.Duration // how long Acquire blocks before ErrAcquireTimeout
	RetryInterval  time.Duration // poll interval while contended
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 3 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 25 * time.Millisecond
	}
	return o
}
