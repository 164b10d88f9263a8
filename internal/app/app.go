package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/config"
	"github.com/linemk/naijahub/internal/events"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/gateway/postgres"
	"github.com/linemk/naijahub/internal/gateway/supabase"
	"github.com/linemk/naijahub/internal/lib/idempotency"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/linemk/naijahub/internal/lib/ratelimit"
	"github.com/linemk/naijahub/internal/metrics"
	"github.com/linemk/naijahub/internal/realtime"
	"github.com/linemk/naijahub/internal/service"
)

// App содержит всё, что нужно HTTP слою. Один кэш общий для всех
// сервисов на всё время жизни процесса.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	// Watcher nil, если realtime инвалидация выключена.
	Watcher *realtime.Watcher

	Listings   *service.ListingService
	Dashboard  *service.DashboardService
	Carts      *service.CartService
	Checkout   *service.CheckoutService
	Orders     *service.OrderService
	Reviews    *service.ReviewService
	Media      *service.MediaService
	Procedures *service.ProcedureService
	Posts      *service.PostService

	redis   *redis.Client
	closers []func() error
}

type store struct {
	tables gateway.Tables
	procs  gateway.Procedures
	blobs  gateway.Blobs
}

// NewApp подключается к хранилищу из конфига и создаёт сервисы.
func NewApp(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.NewApp"

	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
		Limiter: ratelimit.New(log, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
	}

	st, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tables := a.Metrics.InstrumentTables(st.tables)
	procs := a.Metrics.InstrumentProcedures(st.procs)

	a.Cache = cache.New(log, cache.Config{
		StaleTime:     cfg.Cache.StaleTime,
		RetryCount:    cfg.Cache.RetryCount,
		RetryInterval: cfg.Cache.RetryInterval,
		PersistMaxAge: cfg.Cache.PersistMaxAge,
		Retryable:     gateway.IsTransient,
	}).WithRecorder(a.Metrics)
	a.attachRedis(ctx)

	publisher := a.publisher()

	a.Listings = service.NewListingService(log, tables, a.Cache, publisher)
	a.Dashboard = service.NewDashboardService(log, tables, a.Cache)
	a.Carts = service.NewCartService(log, tables, a.Cache)
	a.Checkout = service.NewCheckoutService(log, tables, a.Cache, publisher).WithRecorder(a.Metrics)
	if a.redis != nil {
		a.Checkout.WithIdempotencyGuard(idempotency.NewRedisGuard(a.redis, cfg.Redis.Prefix, cfg.Redis.IdempotencyTTL))
	}
	a.Orders = service.NewOrderService(log, tables, a.Cache)
	a.Reviews = service.NewReviewService(log, tables, a.Cache)
	a.Media = service.NewMediaService(log, st.blobs)
	a.Procedures = service.NewProcedureService(log, procs, a.Cache)
	a.Posts = service.NewPostService(log, tables, a.Cache)

	if cfg.Realtime.Enabled {
		if cfg.Supabase.URL == "" {
			log.Warn("realtime enabled without supabase url, skipping")
		} else {
			a.Watcher = realtime.NewWatcher(log, realtime.Config{
				URL:            cfg.Supabase.URL,
				APIKey:         cfg.Supabase.AnonKey,
				Heartbeat:      cfg.Realtime.Heartbeat,
				ReconnectDelay: cfg.Realtime.ReconnectDelay,
			}, a.Cache, service.ListingsKey)
		}
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (store, error) {
	cfg := a.Config

	var hosted *supabase.Client
	if cfg.Supabase.URL != "" {
		client, err := supabase.New(a.Logger, supabase.Config{
			URL:     cfg.Supabase.URL,
			AnonKey: cfg.Supabase.AnonKey,
			Timeout: cfg.Supabase.Timeout,
		})
		if err != nil {
			return store{}, fmt.Errorf("failed to create supabase client: %w", err)
		}
		hosted = client
	}

	switch cfg.Store.Driver {
	case config.StoreSupabase:
		if hosted == nil {
			return store{}, errors.New("supabase store selected but supabase.url is empty")
		}
		a.Logger.Info("using hosted store", slog.String("url", hosted.BaseURL()))
		return store{tables: hosted, procs: hosted, blobs: hosted}, nil

	case config.StorePostgres:
		if cfg.Database.Password == "" {
			return store{}, errors.New("DB_PASSWORD environment variable is not set")
		}
		db, err := postgres.Open(ctx, cfg.Database.DSN(), cfg.Database.MaxOpenConns)
		if err != nil {
			return store{}, err
		}
		a.closers = append(a.closers, db.Close)
		a.Logger.Info("using postgres store", slog.String("host", cfg.Database.Host), slog.String("db", cfg.Database.Name))

		st := store{tables: postgres.New(a.Logger, db), procs: unavailable{}, blobs: unavailable{}}
		// процедуры и файлы остаются на хостинге, если он настроен
		if hosted != nil {
			st.procs, st.blobs = hosted, hosted
		}
		return st, nil

	default:
		return store{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// attachRedis подключает redis для сохранения кэша и идемпотентности заказов.
// Без адреса или при недоступном redis оба пропускаются.
func (a *App) attachRedis(ctx context.Context) {
	cfg := a.Config.Redis
	if cfg.Address == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn("redis unreachable, persistence and idempotency disabled", slog.String("address", cfg.Address), logger.Err(err))
		_ = client.Close()
		return
	}

	a.redis = client
	a.Cache.WithPersister(cache.NewRedisPersister(client, cfg.Prefix))
	a.closers = append(a.closers, client.Close)
	a.Logger.Info("redis enabled", slog.String("address", cfg.Address))
}

func (a *App) publisher() events.Publisher {
	cfg := a.Config.Kafka
	if len(cfg.Brokers) == 0 {
		a.Logger.Info("kafka not configured, domain events disabled")
		return events.Nop{}
	}

	p := events.NewKafkaPublisher(a.Logger, cfg.Brokers, cfg.Topic, a.Metrics)
	a.closers = append(a.closers, p.Close)
	return p
}

// Close закрывает соединения в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// unavailable заменяет процедуры и файлы, когда настроена только БД.
type unavailable struct{}

func (unavailable) Invoke(_ context.Context, name string, _ any, _ any) error {
	return &gateway.Error{Kind: gateway.KindNetwork, Op: "invoke " + name, Message: "procedures require the hosted backend"}
}

func (unavailable) Upload(_ context.Context, bucket, _ string, _ []byte, _ string) (string, error) {
	return "", &gateway.Error{Kind: gateway.KindNetwork, Op: "upload " + bucket, Message: "file storage requires the hosted backend"}
}

func (unavailable) PublicURL(string, string) string { return "" }
