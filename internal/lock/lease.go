package lock

import (
	"context"
	"sync"
	"time"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// pollInterval is how often a blocked AcquireScoped retries.
const pollInterval = 100 * time.Millisecond

// Lease is a scoped hold on a key. Release is safe to call from defer on
// every exit path; only the first call talks to the repository.
type Lease struct {
	repo  *Repository
	Key   string
	Token string
	Info  Info

	once sync.Once
	err  error
}

// Release frees the lease. Repeated calls return the first result.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.repo.Release(l.Key, l.Token)
	})
	return l.err
}

// AcquireScoped takes the lock for key, polling while it is held by
// someone else, for at most waitTimeout. A zero waitTimeout makes a
// single attempt. When the wait elapses the error kind is Timeout, with
// the last AlreadyHeld failure in the chain.
func (r *Repository) AcquireScoped(ctx context.Context, key string, ttl, waitTimeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		token, info, err := r.Acquire(key, ttl)
		if err == nil {
			return &Lease{repo: r, Key: key, Token: token, Info: info}, nil
		}
		if !fault.Is(err, fault.AlreadyHeld) {
			return nil, err
		}

		now := time.Now()
		if !now.Before(deadline) {
			return nil, fault.Wrap(fault.Timeout, "lock wait elapsed for "+key, err)
		}
		sleep := pollInterval
		if remaining := deadline.Sub(now); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.Timeout, "lock wait canceled for "+key, ctx.Err())
		case <-time.After(sleep):
		}
	}
}
