// ABOUTME: Redis-backed Coordinator using go-redis/v9
// ABOUTME: Gateway liveness is a key with TTL; placements use SETNX for one owner per agent

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/actor-gateway/internal/wire"
)

// deleteIfEquals removes KEYS[1] only while it still holds ARGV[1].
var deleteIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisCoordinator.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "actorgw"
	TTL      time.Duration // gateway liveness TTL; zero never expires
}

// RedisCoordinator implements Coordinator on Redis.
type RedisCoordinator struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCoordinator connects to Redis and verifies the connection.
func NewRedisCoordinator(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisCoordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = "actorgw"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	c := &RedisCoordinator{
		rdb:    rdb,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: logger.With("component", "cluster", "backend", "redis"),
	}
	c.logger.Info("redis coordinator connected", "addr", opts.Addr, "prefix", opts.Prefix)
	return c, nil
}

func (c *RedisCoordinator) gatewayKey(id string) string     { return c.prefix + ":gateway:" + id }
func (c *RedisCoordinator) typeKey(agentType string) string { return c.prefix + ":type:" + agentType }
func (c *RedisCoordinator) gatewayTypesKey(id string) string {
	return c.prefix + ":gateway-types:" + id
}
func (c *RedisCoordinator) placementKey(id wire.AgentID) string {
	return c.prefix + ":placement:" + id.String()
}
func (c *RedisCoordinator) subscriptionsKey() string { return c.prefix + ":subscriptions" }

// liveGateway returns the gateway's ref if it is announced and registers agentType.
func (c *RedisCoordinator) liveGateway(ctx context.Context, gatewayID, agentType string) (GatewayRef, bool, error) {
	registered, err := c.rdb.HExists(ctx, c.typeKey(agentType), gatewayID).Result()
	if err != nil || !registered {
		return GatewayRef{}, false, err
	}
	addr, err := c.rdb.Get(ctx, c.gatewayKey(gatewayID)).Result()
	if errors.Is(err, redis.Nil) {
		return GatewayRef{}, false, nil
	}
	if err != nil {
		return GatewayRef{}, false, err
	}
	return GatewayRef{ID: gatewayID, Address: addr}, true, nil
}

// LookupAgent implements Coordinator.
func (c *RedisCoordinator) LookupAgent(ctx context.Context, requester string, id wire.AgentID) (GatewayRef, bool, error) {
	key := c.placementKey(id)

	current, err := c.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return GatewayRef{}, false, fmt.Errorf("reading placement: %w", err)
	default:
		if current != requester {
			ref, live, err := c.liveGateway(ctx, current, id.Type)
			if err != nil {
				return GatewayRef{}, false, fmt.Errorf("checking placement owner: %w", err)
			}
			if live {
				return ref, false, nil
			}
		}
		if err := deleteIfEquals.Run(ctx, c.rdb, []string{key}, current).Err(); err != nil {
			return GatewayRef{}, false, fmt.Errorf("deleting stale placement: %w", err)
		}
	}

	gatewayIDs, err := c.rdb.HKeys(ctx, c.typeKey(id.Type)).Result()
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("listing registered gateways: %w", err)
	}
	slices.Sort(gatewayIDs)

	var candidates []GatewayRef
	for _, gw := range gatewayIDs {
		if gw == requester {
			continue
		}
		addr, err := c.rdb.Get(ctx, c.gatewayKey(gw)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return GatewayRef{}, false, fmt.Errorf("reading gateway: %w", err)
		}
		candidates = append(candidates, GatewayRef{ID: gw, Address: addr})
	}
	if len(candidates) == 0 {
		return GatewayRef{}, false, ErrAgentNotFound
	}

	chosen := pickGateway(candidates)
	won, err := c.rdb.SetNX(ctx, key, chosen.ID, 0).Result()
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("recording placement: %w", err)
	}
	if won {
		return chosen, true, nil
	}

	// Another gateway placed the agent first.
	winner, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("reading placement: %w", err)
	}
	ref, live, err := c.liveGateway(ctx, winner, id.Type)
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("checking placement owner: %w", err)
	}
	if !live || winner == requester {
		return GatewayRef{}, false, ErrAgentNotFound
	}
	return ref, false, nil
}

// SubscribedAgentTypes implements Coordinator.
func (c *RedisCoordinator) SubscribedAgentTypes(ctx context.Context, topic, eventType string) ([]string, error) {
	subs, err := c.allSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, sub := range subs {
		if !sub.Matches(topic) {
			continue
		}
		if _, seen := set[sub.AgentType]; seen {
			continue
		}
		raw, err := c.rdb.HVals(ctx, c.typeKey(sub.AgentType)).Result()
		if err != nil {
			return nil, fmt.Errorf("reading registrations: %w", err)
		}
		regs := make([]wire.TypeRegistration, 0, len(raw))
		for _, r := range raw {
			var reg wire.TypeRegistration
			if err := wire.Unmarshal([]byte(r), &reg); err != nil {
				return nil, fmt.Errorf("decoding registration: %w", err)
			}
			regs = append(regs, reg)
		}
		if handles(regs, eventType) {
			set[sub.AgentType] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// RegisterAgentType implements Coordinator.
func (c *RedisCoordinator) RegisterAgentType(ctx context.Context, gatewayID string, reg wire.TypeRegistration) error {
	raw, err := wire.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.typeKey(reg.AgentType), gatewayID, raw)
	pipe.SAdd(ctx, c.gatewayTypesKey(gatewayID), reg.AgentType)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registering agent type: %w", err)
	}
	return nil
}

// UnregisterAgentType implements Coordinator. Placements on the gateway are
// left in place and discarded lazily by LookupAgent.
func (c *RedisCoordinator) UnregisterAgentType(ctx context.Context, gatewayID, agentType string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, c.typeKey(agentType), gatewayID)
	pipe.SRem(ctx, c.gatewayTypesKey(gatewayID), agentType)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregistering agent type: %w", err)
	}
	return nil
}

// AddSubscription implements Coordinator.
func (c *RedisCoordinator) AddSubscription(ctx context.Context, sub wire.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	raw, err := wire.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}
	if err := c.rdb.HSet(ctx, c.subscriptionsKey(), sub.ID, raw).Err(); err != nil {
		return fmt.Errorf("adding subscription: %w", err)
	}
	return nil
}

// RemoveSubscription implements Coordinator.
func (c *RedisCoordinator) RemoveSubscription(ctx context.Context, id string) error {
	n, err := c.rdb.HDel(ctx, c.subscriptionsKey(), id).Result()
	if err != nil {
		return fmt.Errorf("removing subscription: %w", err)
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions implements Coordinator.
func (c *RedisCoordinator) ListSubscriptions(ctx context.Context, agentType string) ([]wire.Subscription, error) {
	subs, err := c.allSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, sub := range subs {
		if agentType == "" || sub.AgentType == agentType {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *RedisCoordinator) allSubscriptions(ctx context.Context) ([]wire.Subscription, error) {
	raw, err := c.rdb.HVals(ctx, c.subscriptionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading subscriptions: %w", err)
	}
	subs := make([]wire.Subscription, 0, len(raw))
	for _, r := range raw {
		var sub wire.Subscription
		if err := wire.Unmarshal([]byte(r), &sub); err != nil {
			return nil, fmt.Errorf("decoding subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// AddGateway implements Coordinator.
func (c *RedisCoordinator) AddGateway(ctx context.Context, ref GatewayRef) error {
	if err := c.rdb.Set(ctx, c.gatewayKey(ref.ID), ref.Address, c.ttl).Err(); err != nil {
		return fmt.Errorf("announcing gateway: %w", err)
	}
	return nil
}

// RemoveGateway implements Coordinator.
func (c *RedisCoordinator) RemoveGateway(ctx context.Context, id string) error {
	types, err := c.rdb.SMembers(ctx, c.gatewayTypesKey(id)).Result()
	if err != nil {
		return fmt.Errorf("listing gateway types: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.gatewayKey(id), c.gatewayTypesKey(id))
	for _, t := range types {
		pipe.HDel(ctx, c.typeKey(t), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing gateway: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCoordinator) Close() error {
	return c.rdb.Close()
}
