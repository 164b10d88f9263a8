// Package idempotency резервирует ключи идемпотентности заказов в redis,
// чтобы повторная отправка не создала второй заказ.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/linemk/naijahub/internal/service"
)

var _ service.IdempotencyGuard = (*RedisGuard)(nil)

type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) key(buyerID, key string) string {
	return g.prefix + "checkout:" + buyerID + ":" + key
}

// Reserve занимает key для buyerID. Ключ, уже занятый в пределах ttl,
// даёт service.ErrDuplicateCheckout. Ошибки redis возвращаются как есть,
// и оформление не продолжается.
func (g *RedisGuard) Reserve(ctx context.Context, buyerID, key string) error {
	const op = "idempotency.RedisGuard.Reserve"

	ok, err := g.client.SetNX(ctx, g.key(buyerID, key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return service.ErrDuplicateCheckout
	}
	return nil
}

// Release снимает резерв, чтобы тот же ключ можно было отправить снова.
func (g *RedisGuard) Release(ctx context.Context, buyerID, key string) error {
	const op = "idempotency.RedisGuard.Release"

	if err := g.client.Del(ctx, g.key(buyerID, key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
