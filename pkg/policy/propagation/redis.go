package propagation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mercator-hq/bastion/pkg/policy"
)

// DefaultRedisPrefix prefixes every key and channel written by RedisTransport.
const DefaultRedisPrefix = "bastion:"

// RedisTransport publishes pushes on a per-service channel and keeps the
// latest content of each policy in a per-service hash, so agents that were
// offline can catch up with HGETALL.
//
//	channel: <prefix>policies:<service_id>
//	hash:    <prefix>bindings:<service_id>  field <policy_id>
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport connects to redisURL (redis://host:port/db) and verifies
// the connection.
func NewRedisTransport(ctx context.Context, redisURL, prefix string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisTransportFromClient(client, prefix), nil
}

// NewRedisTransportFromClient wraps an existing client.
func NewRedisTransportFromClient(client *redis.Client, prefix string) *RedisTransport {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTransport{client: client, prefix: prefix}
}

// Name returns "redis".
func (t *RedisTransport) Name() string { return "redis" }

// Channel returns the pub/sub channel of a service.
func (t *RedisTransport) Channel(serviceID string) string {
	return t.prefix + "policies:" + serviceID
}

// BindingKey returns the hash key holding the policies of a service.
func (t *RedisTransport) BindingKey(serviceID string) string {
	return t.prefix + "bindings:" + serviceID
}

// Push stores and publishes the policy atomically.
func (t *RedisTransport) Push(ctx context.Context, b policy.ServicePolicyBinding, p *policy.Policy) error {
	payload, err := encodeMessage(b, p)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, t.BindingKey(b.ServiceID), p.ID, payload)
		pipe.Publish(ctx, t.Channel(b.ServiceID), payload)
		return nil
	})
	if err != nil {
		return wrapTimeout(fmt.Errorf("redis push to %s: %w", b.ServiceID, err))
	}
	return nil
}

// Withdraw deletes a policy from the hash of a service.
func (t *RedisTransport) Withdraw(ctx context.Context, serviceID, policyID string) error {
	if err := t.client.HDel(ctx, t.BindingKey(serviceID), policyID).Err(); err != nil {
		return fmt.Errorf("redis withdraw from %s: %w", serviceID, err)
	}
	return nil
}

// Close closes the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
