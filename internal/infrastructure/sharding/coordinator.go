package sharding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"bella-server/internal/domain/retry"
	"bella-server/internal/infrastructure/metrics"
	"bella-server/internal/infrastructure/observability"
)

const (
	routeLocal     = "local"
	routeForwarded = "forwarded"
)

// WorkflowTrigger inserts a workflow execution if its key is new.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, workflow, key string, payload any) (bool, error)
}

// Coordinator routes entity calls and workflow triggers.
type Coordinator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	// RouteEntityCall runs call on the runner owning the entity's shard.
	RouteEntityCall(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error)
	// ServeForwarded runs a call another runner forwarded here. It never forwards again.
	ServeForwarded(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error)
	RouteWorkflowTrigger(ctx context.Context, workflow, key string, payload any) (bool, error)
}

// RoutingPolicy is the retry schedule for finding a reachable shard owner.
func RoutingPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     4,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        time.Second,
		BackoffStrategy: retry.BackoffExponential,
		Multiplier:      2,
		JitterFactor:    0.2,
	}
}

// Config configures a ClusterCoordinator.
type Config struct {
	Runner       Runner
	ShardCount   int
	HeartbeatTTL time.Duration
	RoutePolicy  retry.Policy
}

func (c Config) withDefaults() Config {
	if c.ShardCount <= 0 {
		c.ShardCount = 300
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 10 * time.Second
	}
	if c.RoutePolicy.MaxAttempts == 0 {
		c.RoutePolicy = RoutingPolicy()
	}
	return c
}

// ClusterCoordinator shares shards between runners registered in Redis.
type ClusterCoordinator struct {
	cfg       Config
	registry  Registry
	leases    Leases
	forwarder Forwarder
	actor     Actor
	trigger   WorkflowTrigger
	log       zerolog.Logger

	acquire singleflight.Group

	mu         sync.RWMutex
	assignment *Assignment
	held       map[int]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClusterCoordinator creates a coordinator for cfg.Runner.
func NewClusterCoordinator(
	cfg Config,
	registry Registry,
	leases Leases,
	forwarder Forwarder,
	actor Actor,
	trigger WorkflowTrigger,
	log zerolog.Logger,
) *ClusterCoordinator {
	return &ClusterCoordinator{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		leases:    leases,
		forwarder: forwarder,
		actor:     actor,
		trigger:   trigger,
		log:       log.With().Str("component", "shard-coordinator").Str("runner_id", cfg.Runner.ID).Logger(),
		held:      make(map[int]struct{}),
	}
}

// Start registers the runner and keeps its heartbeat and leases alive until Stop.
func (c *ClusterCoordinator) Start(ctx context.Context) error {
	if err := c.registry.Register(ctx, c.cfg.Runner, c.cfg.HeartbeatTTL); err != nil {
		return fmt.Errorf("register runner: %w", err)
	}
	c.refresh(ctx)

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()

	c.log.Info().Str("address", c.cfg.Runner.Address).Int("shards", c.cfg.ShardCount).Msg("shard coordinator started")
	return nil
}

// Stop releases every held lease and removes the runner from the registry.
func (c *ClusterCoordinator) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	held := make([]int, 0, len(c.held))
	for shard := range c.held {
		held = append(held, shard)
	}
	c.held = make(map[int]struct{})
	c.mu.Unlock()

	for _, shard := range held {
		if err := c.leases.Release(ctx, shard); err != nil {
			c.log.Warn().Err(err).Int("shard", shard).Msg("failed to release shard lease")
		}
	}
	if err := c.registry.Deregister(ctx, c.cfg.Runner.ID); err != nil {
		c.log.Warn().Err(err).Msg("failed to deregister runner")
	}
	metrics.SetOwnedShards(0)
	c.log.Info().Int("released", len(held)).Msg("shard coordinator stopped")
}

func (c *ClusterCoordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.registry.Register(ctx, c.cfg.Runner, c.cfg.HeartbeatTTL); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("runner heartbeat failed")
			}
			c.refresh(ctx)
		}
	}
}

// refresh reloads the live runners, releases shards assigned elsewhere and
// extends the leases still owned.
func (c *ClusterCoordinator) refresh(ctx context.Context) {
	runners, err := c.registry.Live(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("failed to load live runners")
		}
		return
	}
	assignment := NewAssignment(runners)

	c.mu.Lock()
	previous := c.assignment.Size()
	c.assignment = assignment
	held := make([]int, 0, len(c.held))
	for shard := range c.held {
		held = append(held, shard)
	}
	c.mu.Unlock()

	if previous != assignment.Size() {
		c.log.Info().Int("runners", assignment.Size()).Int("previous", previous).Msg("runner set changed")
	}

	for _, shard := range held {
		owner, ok := assignment.Owner(shard)
		if ok && owner.ID == c.cfg.Runner.ID {
			if err := c.leases.Extend(ctx, shard); err != nil {
				c.log.Warn().Err(err).Int("shard", shard).Msg("shard lease lost")
				c.drop(shard)
			}
			continue
		}
		c.drop(shard)
		if err := c.leases.Release(ctx, shard); err != nil {
			c.log.Warn().Err(err).Int("shard", shard).Msg("failed to release shard lease")
		}
	}

	c.mu.RLock()
	metrics.SetOwnedShards(len(c.held))
	c.mu.RUnlock()
}

func (c *ClusterCoordinator) drop(shard int) {
	c.mu.Lock()
	delete(c.held, shard)
	c.mu.Unlock()
}

func (c *ClusterCoordinator) owner(shard int) (Runner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assignment.Owner(shard)
}

func (c *ClusterCoordinator) holds(shard int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.held[shard]
	return ok
}

// ensureLease acquires the shard lease once per shard, however many calls race for it.
func (c *ClusterCoordinator) ensureLease(ctx context.Context, shard int) error {
	if c.holds(shard) {
		return nil
	}
	_, err, _ := c.acquire.Do(strconv.Itoa(shard), func() (any, error) {
		if c.holds(shard) {
			return nil, nil
		}
		if err := c.leases.Acquire(ctx, shard); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.held[shard] = struct{}{}
		owned := len(c.held)
		c.mu.Unlock()
		metrics.SetOwnedShards(owned)
		c.log.Debug().Int("shard", shard).Msg("shard lease acquired")
		return nil, nil
	})
	return err
}

func (c *ClusterCoordinator) RouteEntityCall(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error) {
	shard := ShardFor(entityID, c.cfg.ShardCount)
	route := routeLocal

	ctx, span := observability.StartEntityCallSpan(ctx, string(call.Operation), entityID, shard)
	defer span.End()

	resp, err := retry.ExecuteWithResult(ctx, c.cfg.RoutePolicy, func(ctx context.Context, attempt int) (EntityResponse, error) {
		owner, ok := c.owner(shard)
		if !ok {
			c.refresh(ctx)
			return EntityResponse{}, ErrNoRunners
		}

		if owner.ID == c.cfg.Runner.ID {
			route = routeLocal
			if err := c.ensureLease(ctx, shard); err != nil {
				c.refresh(ctx)
				return EntityResponse{}, err
			}
			resp, err := Dispatch(ctx, c.actor, entityID, call)
			if err != nil {
				return resp, retry.Permanent(err)
			}
			return resp, nil
		}

		route = routeForwarded
		resp, err := c.forwarder.Forward(ctx, owner, entityID, call)
		if errors.Is(err, ErrRunnerUnreachable) || errors.Is(err, ErrNotOwner) {
			c.log.Warn().Err(err).
				Int("shard", shard).
				Str("owner", owner.ID).
				Int("attempt", attempt).
				Msg("shard owner unavailable, refreshing runners")
			observability.AddRetryEvent(span, attempt, err.Error())
			c.refresh(ctx)
			return resp, err
		}
		if err != nil {
			return resp, retry.Permanent(err)
		}
		return resp, nil
	})

	if err != nil {
		observability.RecordError(span, err, "error")
	}
	metrics.RecordEntityCall(string(call.Operation), route, outcome(err))
	return resp, err
}

func (c *ClusterCoordinator) ServeForwarded(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error) {
	shard := ShardFor(entityID, c.cfg.ShardCount)

	owner, ok := c.owner(shard)
	if !ok || owner.ID != c.cfg.Runner.ID {
		// The caller may have seen a newer runner set than ours.
		c.refresh(ctx)
		owner, ok = c.owner(shard)
	}
	if !ok || owner.ID != c.cfg.Runner.ID {
		return EntityResponse{}, fmt.Errorf("%w: shard %d", ErrNotOwner, shard)
	}
	if err := c.ensureLease(ctx, shard); err != nil {
		return EntityResponse{}, fmt.Errorf("%w: %v", ErrNotOwner, err)
	}

	resp, err := Dispatch(ctx, c.actor, entityID, call)
	metrics.RecordEntityCall(string(call.Operation), routeLocal, outcome(err))
	return resp, err
}

func (c *ClusterCoordinator) RouteWorkflowTrigger(ctx context.Context, workflow, key string, payload any) (bool, error) {
	return c.trigger.Trigger(ctx, workflow, key, payload)
}

// LocalCoordinator owns every shard. It is used when no Redis is configured.
type LocalCoordinator struct {
	actor      Actor
	trigger    WorkflowTrigger
	shardCount int
	log        zerolog.Logger
}

// NewLocalCoordinator creates a single-node coordinator.
func NewLocalCoordinator(actor Actor, trigger WorkflowTrigger, shardCount int, log zerolog.Logger) *LocalCoordinator {
	return &LocalCoordinator{
		actor:      actor,
		trigger:    trigger,
		shardCount: shardCount,
		log:        log.With().Str("component", "shard-coordinator").Logger(),
	}
}

func (c *LocalCoordinator) Start(ctx context.Context) error {
	metrics.SetOwnedShards(c.shardCount)
	c.log.Info().Int("shards", c.shardCount).Msg("running single node, owning all shards")
	return nil
}

func (c *LocalCoordinator) Stop(ctx context.Context) {
	metrics.SetOwnedShards(0)
}

func (c *LocalCoordinator) RouteEntityCall(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error) {
	resp, err := Dispatch(ctx, c.actor, entityID, call)
	metrics.RecordEntityCall(string(call.Operation), routeLocal, outcome(err))
	return resp, err
}

func (c *LocalCoordinator) ServeForwarded(ctx context.Context, entityID string, call EntityCall) (EntityResponse, error) {
	return c.RouteEntityCall(ctx, entityID, call)
}

func (c *LocalCoordinator) RouteWorkflowTrigger(ctx context.Context, workflow, key string, payload any) (bool, error) {
	return c.trigger.Trigger(ctx, workflow, key, payload)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
