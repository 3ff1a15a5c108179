package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this holder still owns it, so a
// replica can never release a lease that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCycleGate implements CycleGate with a Redis lease so only one
// replica runs audit cycles at a time.
type RedisCycleGate struct {
	client   *redis.Client
	key      string
	holderID string
	lease    time.Duration
}

// NewRedisCycleGate creates a gate on the given key. The lease bounds how
// long a crashed replica can block others.
func NewRedisCycleGate(client *redis.Client, key string, lease time.Duration) *RedisCycleGate {
	if key == "" {
		key = "vigil:audit-cycle:lease"
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &RedisCycleGate{
		client:   client,
		key:      key,
		holderID: uuid.NewString(),
		lease:    lease,
	}
}

// Acquire attempts to take the cycle lease. It returns false without
// error when another replica holds it.
func (g *RedisCycleGate) Acquire(ctx context.Context) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key, g.holderID, g.lease).Result()
	if err != nil {
		return false, fmt.Errorf("compliance: redis gate: %w", err)
	}
	return ok, nil
}

// Release gives the lease up if this replica still holds it.
func (g *RedisCycleGate) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key}, g.holderID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("compliance: redis gate release: %w", err)
	}
	return nil
}
