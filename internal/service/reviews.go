package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/shopspring/decimal"
)

const (
	minRating = 1
	maxRating = 5
)

type ReviewInput struct {
	TargetKind models.TargetKind `json:"target_type" validate:"required,oneof=listing designer workshop"`
	TargetID   string            `json:"target_id" validate:"required,max=64"`
	Rating     *int              `json:"rating"`
	Body       string            `json:"content" validate:"required,max=2000"`
}

func (in ReviewInput) validate() error {
	if in.Rating != nil && (*in.Rating < minRating || *in.Rating > maxRating) {
		return fieldError("rating", fmt.Sprintf("must be between %d and %d", minRating, maxRating))
	}
	return validateStruct(in)
}

type ReviewSummary struct {
	Count   int             `json:"count"`
	Rated   int             `json:"rated"`
	Average decimal.Decimal `json:"average"`
}

type ReviewService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
}

func NewReviewService(log *slog.Logger, tables gateway.Tables, c *cache.Cache) *ReviewService {
	return &ReviewService{
		log:    log,
		tables: tables,
		cache:  c,
	}
}

type reviewRow struct {
	TargetKind models.TargetKind `json:"target_type"`
	TargetID   string            `json:"target_id"`
	AuthorID   string            `json:"user_id"`
	Rating     *int              `json:"rating"`
	Body       string            `json:"content"`
}

// Create сохраняет отзыв вызывающего. Рейтинг вне диапазона отклоняется
// до отправки.
func (s *ReviewService) Create(ctx context.Context, in ReviewInput) (*models.Review, error) {
	const op = "service.ReviewService.Create"

	log := s.log.With(slog.String("op", op))

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	target := models.ReviewTarget{Kind: in.TargetKind, ID: in.TargetID}
	row := reviewRow{
		TargetKind: in.TargetKind,
		TargetID:   in.TargetID,
		AuthorID:   id.UserID,
		Rating:     in.Rating,
		Body:       in.Body,
	}

	review, err := cache.Mutate(ctx, s.cache, cache.Mutation[reviewRow, *models.Review]{
		Fn: func(ctx context.Context, row reviewRow) (*models.Review, error) {
			var out []models.Review
			if err := s.tables.Insert(ctx, models.CommentsTable, row, &out); err != nil {
				return nil, err
			}
			if len(out) == 0 {
				return nil, gateway.NewQueryError(op, fmt.Errorf("insert returned no rows"))
			}
			return &out[0], nil
		},
		Invalidates: func(reviewRow, *models.Review) []cache.Key {
			return []cache.Key{ReviewsKey(target)}
		},
	}, row)
	if err != nil {
		log.Error("failed to create review", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return review, nil
}

func (s *ReviewService) List(ctx context.Context, target models.ReviewTarget) ([]models.Review, error) {
	const op = "service.ReviewService.List"

	if !target.Kind.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res := cache.Query(ctx, s.cache, ReviewsKey(target).With("list"), func(ctx context.Context) ([]models.Review, error) {
		q := gateway.Query{
			Table:  models.CommentsTable,
			Filter: gateway.Where().Eq("target_type", string(target.Kind)).Eq("target_id", target.ID),
			Order:  []gateway.Order{{Column: "created_at", Desc: true}},
		}
		var reviews []models.Review
		if err := s.tables.Select(ctx, q, &reviews); err != nil {
			return nil, err
		}
		return reviews, nil
	}, cache.Options{})

	reviews, err := resolve(res)
	if err != nil {
		return reviews, fmt.Errorf("%s: %w", op, err)
	}
	return reviews, nil
}

// Summary агрегирует оценки цели. Отзывы без оценки учитываются
// только в Count.
func (s *ReviewService) Summary(ctx context.Context, target models.ReviewTarget) (*ReviewSummary, error) {
	const op = "service.ReviewService.Summary"

	if !target.Kind.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res := cache.Query(ctx, s.cache, ReviewsKey(target).With("summary"), func(ctx context.Context) (*ReviewSummary, error) {
		q := gateway.Query{
			Table:   models.CommentsTable,
			Columns: "rating",
			Filter:  gateway.Where().Eq("target_type", string(target.Kind)).Eq("target_id", target.ID),
		}
		var rows []struct {
			Rating *int `json:"rating"`
		}
		if err := s.tables.Select(ctx, q, &rows); err != nil {
			return nil, err
		}

		ratings := make([]*int, len(rows))
		for i, r := range rows {
			ratings[i] = r.Rating
		}
		sum := Summarize(ratings)
		return &sum, nil
	}, cache.Options{})

	summary, err := resolve(res)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	return summary, nil
}

// Summarize усредняет заданные оценки с округлением до сотых.
func Summarize(ratings []*int) ReviewSummary {
	s := ReviewSummary{Count: len(ratings)}
	var total int64
	for _, r := range ratings {
		if r == nil {
			continue
		}
		s.Rated++
		total += int64(*r)
	}
	if s.Rated > 0 {
		s.Average = decimal.NewFromInt(total).DivRound(decimal.NewFromInt(int64(s.Rated)), 2)
	}
	return s
}
