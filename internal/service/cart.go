package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
)

const maxCartQuantity = 99

type CartService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
}

func NewCartService(log *slog.Logger, tables gateway.Tables, c *cache.Cache) *CartService {
	return &CartService{
		log:    log,
		tables: tables,
		cache:  c,
	}
}

// Get возвращает строки корзины вызывающего вместе с объявлениями.
func (s *CartService) Get(ctx context.Context, m models.Marketplace) ([]models.CartItem, error) {
	const op = "service.CartService.Get"

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res := cache.Query(ctx, s.cache, CartKey(m, id.UserID), func(ctx context.Context) ([]models.CartItem, error) {
		return cartLines(ctx, s.tables, m, id.UserID)
	}, cache.Options{})

	items, err := resolve(res)
	if err != nil {
		return items, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

func cartLines(ctx context.Context, tables gateway.Tables, m models.Marketplace, buyerID string) ([]models.CartItem, error) {
	q := gateway.Query{
		Table:  m.CartTable(),
		Filter: gateway.Where().Eq("user_id", buyerID),
		Relations: []gateway.Relation{{
			Table:      m.ListingsTable(),
			Alias:      "listing",
			ForeignKey: "listing_id",
			ToOne:      true,
		}},
		Order: []gateway.Order{{Column: "created_at"}},
	}

	var items []models.CartItem
	if err := tables.Select(ctx, q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Add кладёт qty объявления в корзину, увеличивая существующую строку.
func (s *CartService) Add(ctx context.Context, m models.Marketplace, listingID string, qty int) (*models.CartItem, error) {
	const op = "service.CartService.Add"

	log := s.log.With(slog.String("op", op), slog.String("marketplace", string(m)))

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if listingID == "" {
		return nil, fmt.Errorf("%s: %w", op, fieldError("listing_id", "is required"))
	}
	if qty < 1 || qty > maxCartQuantity {
		return nil, fmt.Errorf("%s: %w", op, fieldError("quantity", fmt.Sprintf("must be between 1 and %d", maxCartQuantity)))
	}

	item, err := cache.Mutate(ctx, s.cache, cache.Mutation[int, *models.CartItem]{
		Fn: func(ctx context.Context, qty int) (*models.CartItem, error) {
			var existing []models.CartItem
			q := gateway.Query{
				Table:  m.CartTable(),
				Filter: gateway.Where().Eq("user_id", id.UserID).Eq("listing_id", listingID),
				Limit:  1,
			}
			if err := s.tables.Select(ctx, q, &existing); err != nil {
				return nil, err
			}

			var out []models.CartItem
			if len(existing) > 0 {
				total := min(existing[0].Quantity+qty, maxCartQuantity)
				err := s.tables.Update(ctx, m.CartTable(), gateway.Where().Eq("id", existing[0].ID), map[string]any{"quantity": total}, &out)
				if err != nil {
					return nil, err
				}
			} else {
				row := map[string]any{
					"user_id":    id.UserID,
					"listing_id": listingID,
					"quantity":   qty,
				}
				if err := s.tables.Insert(ctx, m.CartTable(), row, &out); err != nil {
					return nil, err
				}
			}
			if len(out) == 0 {
				return nil, gateway.NewQueryError(op, fmt.Errorf("write returned no rows"))
			}
			return &out[0], nil
		},
		Invalidates: func(int, *models.CartItem) []cache.Key {
			return []cache.Key{CartKey(m, id.UserID)}
		},
	}, qty)
	if err != nil {
		log.Error("failed to add to cart", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return item, nil
}

// UpdateQuantity задаёт количество в строке. Ноль удаляет строку и возвращает nil.
func (s *CartService) UpdateQuantity(ctx context.Context, m models.Marketplace, itemID string, qty int) (*models.CartItem, error) {
	const op = "service.CartService.UpdateQuantity"

	if qty < 0 || qty > maxCartQuantity {
		return nil, fmt.Errorf("%s: %w", op, fieldError("quantity", fmt.Sprintf("must be between 0 and %d", maxCartQuantity)))
	}
	if qty == 0 {
		if err := s.Remove(ctx, m, itemID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, nil
	}

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	item, err := cache.Mutate(ctx, s.cache, cache.Mutation[int, *models.CartItem]{
		Fn: func(ctx context.Context, qty int) (*models.CartItem, error) {
			var out []models.CartItem
			f := gateway.Where().Eq("id", itemID).Eq("user_id", id.UserID)
			if err := s.tables.Update(ctx, m.CartTable(), f, map[string]any{"quantity": qty}, &out); err != nil {
				return nil, err
			}
			if len(out) == 0 {
				return nil, ErrNotFound
			}
			return &out[0], nil
		},
		Invalidates: func(int, *models.CartItem) []cache.Key {
			return []cache.Key{CartKey(m, id.UserID)}
		},
	}, qty)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

func (s *CartService) Remove(ctx context.Context, m models.Marketplace, itemID string) error {
	const op = "service.CartService.Remove"

	id, err := caller(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	_, err = cache.Mutate(ctx, s.cache, cache.Mutation[string, struct{}]{
		Fn: func(ctx context.Context, itemID string) (struct{}, error) {
			f := gateway.Where().Eq("id", itemID).Eq("user_id", id.UserID)
			return struct{}{}, s.tables.Delete(ctx, m.CartTable(), f)
		},
		Invalidates: func(string, struct{}) []cache.Key {
			return []cache.Key{CartKey(m, id.UserID)}
		},
	}, itemID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
