package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
)

const (
	mapTokenProcedure = "get-mapbox-token"
	newsProcedure     = "fetch-nigerian-news"

	mapTokenStaleTime = 30 * time.Minute
)

type NewsIngestion struct {
	Inserted int    `json:"inserted"`
	Message  string `json:"message,omitempty"`
}

type ProcedureService struct {
	log   *slog.Logger
	procs gateway.Procedures
	cache *cache.Cache
}

func NewProcedureService(log *slog.Logger, procs gateway.Procedures, c *cache.Cache) *ProcedureService {
	return &ProcedureService{
		log:   log,
		procs: procs,
		cache: c,
	}
}

// MapToken возвращает публичный токен карты. Он кэшируется на полчаса
// и сохраняется, чтобы после перезапуска не вызывать процедуру снова.
func (s *ProcedureService) MapToken(ctx context.Context) (string, error) {
	const op = "service.ProcedureService.MapToken"

	res := cache.Query(ctx, s.cache, mapTokenKey, func(ctx context.Context) (string, error) {
		var out struct {
			Token string `json:"token"`
		}
		if err := s.procs.Invoke(ctx, mapTokenProcedure, nil, &out); err != nil {
			return "", err
		}
		if out.Token == "" {
			return "", gateway.NewQueryError(mapTokenProcedure, fmt.Errorf("empty token"))
		}
		return out.Token, nil
	}, cache.Options{StaleTime: mapTokenStaleTime, Persist: true})

	token, err := resolve(res)
	if err != nil {
		return token, fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// TriggerNewsIngestion просит хранилище загрузить свежие новости в posts.
func (s *ProcedureService) TriggerNewsIngestion(ctx context.Context) (*NewsIngestion, error) {
	const op = "service.ProcedureService.TriggerNewsIngestion"

	log := s.log.With(slog.String("op", op))

	if _, err := caller(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := cache.Mutate(ctx, s.cache, cache.Mutation[struct{}, *NewsIngestion]{
		Fn: func(ctx context.Context, _ struct{}) (*NewsIngestion, error) {
			var out NewsIngestion
			if err := s.procs.Invoke(ctx, newsProcedure, map[string]any{}, &out); err != nil {
				return nil, err
			}
			return &out, nil
		},
		Invalidates: func(struct{}, *NewsIngestion) []cache.Key {
			return []cache.Key{postsKey}
		},
	}, struct{}{})
	if err != nil {
		log.Error("news ingestion failed", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("news ingested", slog.Int("inserted", out.Inserted))
	return out, nil
}
