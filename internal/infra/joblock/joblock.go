// Package joblock provides a best-effort per-job driver lock backed by
// redis. The state machine assumes a single active driver per job; the lock
// is a defense against a duplicate driver (for example two workers claiming
// overlapping work after a partial network partition), not a correctness
// requirement. A nil *Locker is valid and grants every acquisition.
package joblock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mediaforge:joblock:"

// Locker acquires and releases per-job leases.
type Locker struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New creates a Locker over the given redis client. Leases expire after ttl
// so a crashed driver cannot wedge a job forever.
func New(rdb redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// Acquire attempts to take the lease for jobID. It returns false when
// another driver currently holds it.
func (l *Locker) Acquire(ctx context.Context, jobID string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, keyPrefix+jobID, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("joblock: acquire %s: %w", jobID, err)
	}
	return ok, nil
}

// Release drops the lease for jobID. Releasing an expired or never-held
// lease is a no-op.
func (l *Locker) Release(ctx context.Context, jobID string) {
	if l == nil || l.rdb == nil {
		return
	}
	l.rdb.Del(ctx, keyPrefix+jobID)
}
