package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
)

type OrderService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
}

func NewOrderService(log *slog.Logger, tables gateway.Tables, c *cache.Cache) *OrderService {
	return &OrderService{
		log:    log,
		tables: tables,
		cache:  c,
	}
}

func itemsRelation(m models.Marketplace) gateway.Relation {
	return gateway.Relation{
		Table:      m.OrderItemsTable(),
		Alias:      "items",
		ForeignKey: "order_id",
	}
}

// List возвращает заказы вызывающего в вертикали с позициями, новые первыми.
func (s *OrderService) List(ctx context.Context, m models.Marketplace) ([]models.Order, error) {
	const op = "service.OrderService.List"

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	res := cache.Query(ctx, s.cache, OrdersKey(m, id.UserID), func(ctx context.Context) ([]models.Order, error) {
		q := gateway.Query{
			Table:     m.OrdersTable(),
			Filter:    gateway.Where().Eq("buyer_id", id.UserID),
			Relations: []gateway.Relation{itemsRelation(m)},
			Order:     []gateway.Order{{Column: "created_at", Desc: true}},
		}
		var orders []models.Order
		if err := s.tables.Select(ctx, q, &orders); err != nil {
			return nil, err
		}
		return orders, nil
	}, cache.Options{})

	orders, err := resolve(res)
	if err != nil {
		return orders, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

// Get возвращает заказ вызывающего с позициями.
func (s *OrderService) Get(ctx context.Context, m models.Marketplace, orderID string) (*models.Order, error) {
	const op = "service.OrderService.Get"

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	key := OrdersKey(m, id.UserID).With("id", orderID)
	res := cache.Query(ctx, s.cache, key, func(ctx context.Context) (*models.Order, error) {
		q := gateway.Query{
			Table:     m.OrdersTable(),
			Filter:    gateway.Where().Eq("id", orderID).Eq("buyer_id", id.UserID),
			Relations: []gateway.Relation{itemsRelation(m)},
			Limit:     1,
		}
		var orders []models.Order
		if err := s.tables.Select(ctx, q, &orders); err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			return nil, ErrNotFound
		}
		return &orders[0], nil
	}, cache.Options{})

	order, err := resolve(res)
	if err != nil {
		return order, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}
