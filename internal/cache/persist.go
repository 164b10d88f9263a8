package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/linemk/naijahub/internal/lib/logger"
)

// ErrNotPersisted возвращает Persister.Get для неизвестных или просроченных ключей.
var ErrNotPersisted = errors.New("entry not persisted")

// Persister хранит выбранные записи между перезапусками не дольше maxAge.
type Persister interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, maxAge time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type persisted struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

func (c *Cache) persist(ctx context.Context, key Key, data any, fetchedAt time.Time) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Warn("failed to encode entry for persistence", slog.String("key", key.String()), logger.Err(err))
		return
	}
	value, err := json.Marshal(persisted{FetchedAt: fetchedAt, Data: raw})
	if err != nil {
		return
	}
	if err := c.persister.Set(ctx, key.String(), value, c.cfg.PersistMaxAge); err != nil {
		c.log.Warn("failed to persist entry", slog.String("key", key.String()), logger.Err(err))
	}
}

// rehydrate поднимает сохранённую копию в память. Копия сохраняет исходное
// время загрузки, и обновлять ли её, решают обычные правила устаревания.
func (c *Cache) rehydrate(ctx context.Context, key Key, decode func([]byte) (any, error)) bool {
	value, err := c.persister.Get(ctx, key.String())
	if err != nil {
		if !errors.Is(err, ErrNotPersisted) {
			c.log.Warn("failed to read persisted entry", slog.String("key", key.String()), logger.Err(err))
		}
		return false
	}

	var p persisted
	if err := json.Unmarshal(value, &p); err != nil {
		return false
	}
	if c.cfg.PersistMaxAge > 0 && c.now().Sub(p.FetchedAt) > c.cfg.PersistMaxAge {
		return false
	}
	data, err := decode(p.Data)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		e = &entry{key: key}
		c.entries[key.String()] = e
	}
	if e.hasData {
		return true
	}
	e.data = data
	e.hasData = true
	e.fetchedAt = p.FetchedAt
	e.persisted = true
	return true
}

// RedisPersister хранит записи обычными ключами с TTL.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

func NewRedisPersister(client *redis.Client, prefix string) *RedisPersister {
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.RedisPersister.Get"

	value, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotPersisted
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

func (p *RedisPersister) Set(ctx context.Context, key string, value []byte, maxAge time.Duration) error {
	const op = "cache.RedisPersister.Set"

	if err := p.client.Set(ctx, p.prefix+key, value, maxAge).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *RedisPersister) Delete(ctx context.Context, keys ...string) error {
	const op = "cache.RedisPersister.Delete"

	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	if err := p.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
