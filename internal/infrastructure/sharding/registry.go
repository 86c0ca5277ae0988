package sharding

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runnersKey   = "bella:runners"
	addressesKey = "bella:runner-addresses"
)

// Registry tracks the live runners of the cluster.
type Registry interface {
	// Register adds or refreshes a runner; it stays live for ttl.
	Register(ctx context.Context, runner Runner, ttl time.Duration) error
	Deregister(ctx context.Context, runnerID string) error
	Live(ctx context.Context) ([]Runner, error)
}

// RedisRegistry keeps runners in a sorted set scored by heartbeat expiry.
type RedisRegistry struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRegistry creates a registry on client.
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

func (r *RedisRegistry) Register(ctx context.Context, runner Runner, ttl time.Duration) error {
	expiresAt := r.now().Add(ttl).UnixMilli()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, runnersKey, redis.Z{Score: float64(expiresAt), Member: runner.ID})
	pipe.HSet(ctx, addressesKey, runner.ID, runner.Address)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register runner %s: %w", runner.ID, err)
	}
	return nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, runnerID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, runnersKey, runnerID)
	pipe.HDel(ctx, addressesKey, runnerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deregister runner %s: %w", runnerID, err)
	}
	return nil
}

// Live returns runners whose heartbeat has not expired and prunes the rest.
func (r *RedisRegistry) Live(ctx context.Context) ([]Runner, error) {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)

	expired, err := r.client.ZRangeByScore(ctx, runnersKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + now}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired runners: %w", err)
	}
	if len(expired) > 0 {
		members := make([]any, len(expired))
		for i, id := range expired {
			members[i] = id
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, runnersKey, members...)
		pipe.HDel(ctx, addressesKey, expired...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("prune expired runners: %w", err)
		}
	}

	ids, err := r.client.ZRangeByScore(ctx, runnersKey, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list live runners: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	addresses, err := r.client.HMGet(ctx, addressesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runner addresses: %w", err)
	}

	runners := make([]Runner, 0, len(ids))
	for i, id := range ids {
		addr, ok := addresses[i].(string)
		if !ok || addr == "" {
			continue
		}
		runners = append(runners, Runner{ID: id, Address: addr})
	}
	return runners, nil
}
