package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
)

const (
	defaultPostsLimit = 20
	maxPostsLimit     = 100
)

// PostService читает ленту новостей. Посты пишет только процедура загрузки,
// которая инвалидирует всё прочитанное здесь.
type PostService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
}

func NewPostService(log *slog.Logger, tables gateway.Tables, c *cache.Cache) *PostService {
	return &PostService{
		log:    log,
		tables: tables,
		cache:  c,
	}
}

// Latest возвращает до limit постов, новые первыми. Неположительный limit
// означает размер страницы по умолчанию.
func (s *PostService) Latest(ctx context.Context, limit int) ([]models.Post, error) {
	const op = "service.PostService.Latest"

	switch {
	case limit <= 0:
		limit = defaultPostsLimit
	case limit > maxPostsLimit:
		limit = maxPostsLimit
	}

	res := cache.Query(ctx, s.cache, postsKey.With("latest", strconv.Itoa(limit)), func(ctx context.Context) ([]models.Post, error) {
		q := gateway.Query{
			Table: models.PostsTable,
			Order: []gateway.Order{{Column: "created_at", Desc: true}},
			Limit: limit,
		}
		var posts []models.Post
		if err := s.tables.Select(ctx, q, &posts); err != nil {
			return nil, err
		}
		return posts, nil
	}, cache.Options{})

	posts, err := resolve(res)
	if err != nil {
		return posts, fmt.Errorf("%s: %w", op, err)
	}
	return posts, nil
}
