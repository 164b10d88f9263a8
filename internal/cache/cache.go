// Package cache слой запросов между сервисами и шлюзом: чтение по ключам
// с устареванием, склейкой одинаковых параллельных чтений, повторами
// и инвалидацией от мутаций.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linemk/naijahub/internal/lib/logger"
	"golang.org/x/sync/singleflight"
)

// Options настройки одного запроса. Нулевое значение - включённый запрос
// со временем устаревания и числом повторов кэша по умолчанию.
type Options struct {
	// Disabled не загружает данные и отдаёт то, что есть в кэше.
	Disabled bool
	// RetryCount переопределяет значение кэша, если не nil.
	RetryCount *int
	// StaleTime переопределяет значение кэша, если не ноль.
	StaleTime time.Duration
	// Persist сохраняет копию в persister не дольше persist max age.
	Persist bool
}

// Retries хелпер для Options.RetryCount.
func Retries(n int) *int { return &n }

// Result то, что видит потребитель. Data может прийти вместе с Err, если
// повторная загрузка упала и остались прежние данные.
type Result[T any] struct {
	Data      T
	Err       error
	IsLoading bool
	Stale     bool
}

// Fetcher загружает свежие данные по ключу.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Recorder получает события кэша, обычно это счётчики Prometheus.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheFetch(err error)
}

type Config struct {
	StaleTime     time.Duration
	RetryCount    int
	RetryInterval time.Duration
	PersistMaxAge time.Duration
	// Retryable сообщает, стоит ли повторять неудачную загрузку.
	// При nil повторяется любая ошибка.
	Retryable func(error) bool
}

type Cache struct {
	log       *slog.Logger
	cfg       Config
	persister Persister
	recorder  Recorder
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]subscription
	nextSub int

	group singleflight.Group
	bg    sync.WaitGroup
}

type entry struct {
	key       Key
	data      any
	hasData   bool
	err       error
	fetchedAt time.Time
	// gen меняется при каждой инвалидации, загрузка, начатая при старом
	// поколении, не может снова сделать запись валидной.
	gen         uint64
	invalidated bool
	persisted   bool
}

type subscription struct {
	prefix Key
	ch     chan Key
}

func New(log *slog.Logger, cfg Config) *Cache {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	return &Cache{
		log:     log.With(slog.String("component", "cache")),
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*entry),
		subs:    make(map[int]subscription),
	}
}

// WithPersister сохраняет записи, запрошенные с Options.Persist.
func (c *Cache) WithPersister(p Persister) *Cache {
	c.persister = p
	return c
}

func (c *Cache) WithRecorder(r Recorder) *Cache {
	c.recorder = r
	return c
}

// Query отдаёт ключ из кэша или загружает его.
//
// Свежие записи отдаются как есть. Записи старше времени устаревания
// отдаются сразу и обновляются в фоне. Отсутствующие или инвалидированные
// записи загружаются до ответа, одинаковые параллельные загрузки общие.
func Query[T any](ctx context.Context, c *Cache, key Key, fetch Fetcher[T], opts Options) Result[T] {
	raw := c.query(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, func(data []byte) (any, error) {
		var v T
		err := json.Unmarshal(data, &v)
		return v, err
	}, opts)

	res := Result[T]{Err: raw.err, IsLoading: raw.loading, Stale: raw.stale}
	if v, ok := raw.data.(T); ok {
		res.Data = v
	}
	return res
}

type rawResult struct {
	data    any
	err     error
	loading bool
	stale   bool
}

type snapshot struct {
	exists      bool
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	invalidated bool
	gen         uint64
}

func (c *Cache) snapshot(k string) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return snapshot{}
	}
	return snapshot{
		exists:      true,
		data:        e.data,
		hasData:     e.hasData,
		err:         e.err,
		fetchedAt:   e.fetchedAt,
		invalidated: e.invalidated,
		gen:         e.gen,
	}
}

func (c *Cache) query(ctx context.Context, key Key, fetch func(context.Context) (any, error), decode func([]byte) (any, error), opts Options) rawResult {
	k := key.String()
	snap := c.snapshot(k)

	if !snap.hasData && opts.Persist && c.persister != nil {
		if c.rehydrate(ctx, key, decode) {
			snap = c.snapshot(k)
		}
	}

	stale := snap.hasData && c.isStale(snap.fetchedAt, opts)

	if opts.Disabled {
		if !snap.hasData {
			return rawResult{loading: true, err: snap.err}
		}
		return rawResult{data: snap.data, err: snap.err, stale: stale || snap.invalidated}
	}

	switch {
	case snap.hasData && !snap.invalidated && !stale:
		c.hit()
		return rawResult{data: snap.data, err: snap.err}

	case snap.hasData && !snap.invalidated:
		c.hit()
		c.refreshAsync(key, snap.gen, fetch, opts)
		return rawResult{data: snap.data, err: snap.err, stale: true}

	default:
		c.miss()
		gen := snap.gen
		if !snap.exists {
			gen = c.placeholder(key)
		}
		data, err := c.fetch(ctx, key, gen, fetch, opts)
		if err != nil {
			if snap.hasData {
				return rawResult{data: snap.data, err: err, stale: true}
			}
			return rawResult{err: err}
		}
		return rawResult{data: data}
	}
}

// placeholder заводит пустую запись под первую загрузку, чтобы инвалидация
// во время загрузки сдвинула поколение, а не потерялась.
func (c *Cache) placeholder(key Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		e = &entry{key: key}
		c.entries[key.String()] = e
	}
	return e.gen
}

func (c *Cache) isStale(fetchedAt time.Time, opts Options) bool {
	staleTime := c.cfg.StaleTime
	if opts.StaleTime > 0 {
		staleTime = opts.StaleTime
	}
	return c.now().Sub(fetchedAt) >= staleTime
}

// fetch держит одну загрузку на ключ и поколение. Общая загрузка
// отвязана от отмены вызывающего, чтобы остальные ждущие получили результат.
func (c *Cache) fetch(ctx context.Context, key Key, gen uint64, fetch func(context.Context) (any, error), opts Options) (any, error) {
	flightKey := key.String() + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, gen, fetch, opts)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) refreshAsync(key Key, gen uint64, fetch func(context.Context) (any, error), opts Options) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.fetch(context.Background(), key, gen, fetch, opts); err != nil {
			c.log.Warn("background refresh failed", slog.String("key", key.String()), logger.Err(err))
		}
	}()
}

func (c *Cache) load(ctx context.Context, key Key, gen uint64, fetch func(context.Context) (any, error), opts Options) (any, error) {
	retries := c.cfg.RetryCount
	if opts.RetryCount != nil {
		retries = *opts.RetryCount
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval

	data, err := backoff.Retry(ctx, func() (any, error) {
		v, err := fetch(ctx)
		c.fetched(err)
		if err != nil && c.cfg.Retryable != nil && !c.cfg.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(retries+1)))
	// последняя попытка возвращает обёртку как есть
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	c.store(ctx, key, gen, data, err, opts)
	return data, err
}

func (c *Cache) store(ctx context.Context, key Key, gen uint64, data any, err error, opts Options) {
	k := key.String()

	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: key, gen: gen}
		c.entries[k] = e
	}
	if err != nil {
		// оставляем последние хорошие данные, ошибку отдаём рядом
		e.err = err
		c.mu.Unlock()
		return
	}
	e.data = data
	e.hasData = true
	e.err = nil
	e.fetchedAt = c.now()
	if e.gen == gen {
		e.invalidated = false
	}
	persist := opts.Persist && c.persister != nil
	if persist {
		e.persisted = true
	}
	fetchedAt := e.fetchedAt
	c.mu.Unlock()

	if persist {
		c.persist(ctx, key, data, fetchedAt)
	}
}

// Peek возвращает данные из кэша без загрузки.
func (c *Cache) Peek(key Key) (any, bool) {
	snap := c.snapshot(key.String())
	return snap.data, snap.hasData
}

// Invalidate помечает инвалидированными все записи под любым из префиксов
// и возвращает число затронутых записей. Подписчики подходящих префиксов
// получают уведомление.
func (c *Cache) Invalidate(prefixes ...Key) int {
	c.mu.Lock()
	var (
		touched   []Key
		persisted []string
	)
	for _, e := range c.entries {
		for _, p := range prefixes {
			if !e.key.HasPrefix(p) {
				continue
			}
			e.invalidated = true
			e.gen++
			touched = append(touched, e.key)
			if e.persisted {
				persisted = append(persisted, e.key.String())
				e.persisted = false
			}
			break
		}
	}

	var notify []subscription
	for _, s := range c.subs {
		for _, p := range prefixes {
			if p.HasPrefix(s.prefix) || s.prefix.HasPrefix(p) {
				notify = append(notify, s)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, s := range notify {
		for _, p := range prefixes {
			select {
			case s.ch <- p:
			default:
			}
		}
	}

	if len(persisted) > 0 && c.persister != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.persister.Delete(ctx, persisted...); err != nil {
				c.log.Warn("failed to drop persisted entries", logger.Err(err))
			}
		}()
	}

	c.log.Debug("invalidated", slog.Int("entries", len(touched)), slog.Any("prefixes", prefixes))
	return len(touched)
}

// Subscribe присылает инвалидированный префикс, когда инвалидация пересекается
// с prefix. Возвращённая функция отписывает.
func (c *Cache) Subscribe(prefix Key) (<-chan Key, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Key, 16)
	c.subs[id] = subscription{prefix: prefix, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Wait ждёт завершения фоновых обновлений и записи в persister.
func (c *Cache) Wait() {
	c.bg.Wait()
}

func (c *Cache) hit() {
	if c.recorder != nil {
		c.recorder.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.recorder != nil {
		c.recorder.CacheMiss()
	}
}

func (c *Cache) fetched(err error) {
	if c.recorder != nil {
		c.recorder.CacheFetch(err)
	}
}
