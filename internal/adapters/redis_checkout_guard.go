package adapters

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

// RedisCheckoutGuard holds a short-lived per-order lock while a sale is in flight.
type RedisCheckoutGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCheckoutGuard(rdb *redis.Client, ttl time.Duration) *RedisCheckoutGuard {
	return &RedisCheckoutGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisCheckoutGuard) key(orderID string) string {
	return "splits:checkout:" + orderID
}

func (g *RedisCheckoutGuard) Acquire(ctx context.Context, orderID string) (bool, error) {
	return g.rdb.SetNX(ctx, g.key(orderID), "1", g.ttl).Result()
}

func (g *RedisCheckoutGuard) Release(ctx context.Context, orderID string) error {
	return g.rdb.Del(ctx, g.key(orderID)).Err()
}

// NoopCheckoutGuard is used when no Redis is configured; every checkout proceeds.
type NoopCheckoutGuard struct{}

func (NoopCheckoutGuard) Acquire(context.Context, string) (bool, error) { return true, nil }

func (NoopCheckoutGuard) Release(context.Context, string) error { return nil }

var (
	_ ports.CheckoutGuard = (*RedisCheckoutGuard)(nil)
	_ ports.CheckoutGuard = NoopCheckoutGuard{}
)
