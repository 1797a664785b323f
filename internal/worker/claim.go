package worker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer hands out short-lived exclusive claims on a key.  The reminder
// scheduler claims a booking before sending so that replicas ticking at
// the same moment do not both send.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisClaimer implements Claimer with SET NX PX.
type RedisClaimer struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisClaimer(rdb *redis.Client, prefix string) *RedisClaimer {
	if prefix == "" {
		prefix = "claim:"
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+key, 1, ttl).Result()
}

func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// LocalClaimer is an in-process Claimer for single-replica deployments.
type LocalClaimer struct {
	mu     sync.Mutex
	now    func() time.Time
	claims map[string]time.Time
}

func NewLocalClaimer() *LocalClaimer {
	return &LocalClaimer{now: time.Now, claims: make(map[string]time.Time)}
}

func (c *LocalClaimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.claims[key]; ok && now.Before(until) {
		return false, nil
	}
	c.claims[key] = now.Add(ttl)
	for k, until := range c.claims {
		if !now.Before(until) {
			delete(c.claims, k)
		}
	}
	return true, nil
}

func (c *LocalClaimer) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.claims, key)
	c.mu.Unlock()
	return nil
}
