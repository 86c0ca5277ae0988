package sharding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseUnavailable is returned when another runner holds a shard lease.
var ErrLeaseUnavailable = errors.New("shard lease unavailable")

// Leases grants exclusive ownership of shards.
type Leases interface {
	Acquire(ctx context.Context, shard int) error
	Extend(ctx context.Context, shard int) error
	Release(ctx context.Context, shard int) error
}

// RedsyncLeases holds one redsync mutex per owned shard.
type RedsyncLeases struct {
	rs  *redsync.Redsync
	ttl time.Duration

	mu      sync.Mutex
	mutexes map[int]*redsync.Mutex
}

// NewRedsyncLeases creates shard leases that expire after ttl unless extended.
func NewRedsyncLeases(client redis.UniversalClient, ttl time.Duration) *RedsyncLeases {
	return &RedsyncLeases{
		rs:      redsync.New(goredis.NewPool(client)),
		ttl:     ttl,
		mutexes: make(map[int]*redsync.Mutex),
	}
}

func leaseName(shard int) string {
	return fmt.Sprintf("shard:%d", shard)
}

func (l *RedsyncLeases) Acquire(ctx context.Context, shard int) error {
	l.mu.Lock()
	_, held := l.mutexes[shard]
	l.mu.Unlock()
	if held {
		return nil
	}

	mutex := l.rs.NewMutex(leaseName(shard), redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		return fmt.Errorf("%w: shard %d: %v", ErrLeaseUnavailable, shard, err)
	}

	l.mu.Lock()
	l.mutexes[shard] = mutex
	l.mu.Unlock()
	return nil
}

func (l *RedsyncLeases) Extend(ctx context.Context, shard int) error {
	mutex, ok := l.take(shard, false)
	if !ok {
		return fmt.Errorf("%w: shard %d not held", ErrLeaseUnavailable, shard)
	}
	extended, err := mutex.ExtendContext(ctx)
	if err != nil || !extended {
		l.take(shard, true)
		return fmt.Errorf("%w: extend shard %d: %v", ErrLeaseUnavailable, shard, err)
	}
	return nil
}

func (l *RedsyncLeases) Release(ctx context.Context, shard int) error {
	mutex, ok := l.take(shard, true)
	if !ok {
		return nil
	}
	if _, err := mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("release shard %d: %w", shard, err)
	}
	return nil
}

func (l *RedsyncLeases) take(shard int, remove bool) (*redsync.Mutex, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutex, ok := l.mutexes[shard]
	if ok && remove {
		delete(l.mutexes, shard)
	}
	return mutex, ok
}
