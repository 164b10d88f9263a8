package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/events"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/shopspring/decimal"
)

// CheckoutState шаг одной попытки оформления заказа.
type CheckoutState string

const (
	StateIdle               CheckoutState = "idle"
	StateCollectingForm     CheckoutState = "collecting_form"
	StateSubmitting         CheckoutState = "submitting"
	StateCreatingOrder      CheckoutState = "creating_order"
	StateCreatingOrderItems CheckoutState = "creating_order_items"
	StateClearingCart       CheckoutState = "clearing_cart"
	StateComplete           CheckoutState = "complete"
	StateFailed             CheckoutState = "failed"
)

type CheckoutForm struct {
	ContactName     string               `json:"contact_name" validate:"required,max=120"`
	ContactPhone    string               `json:"contact_phone" validate:"required,min=7,max=20"`
	ContactEmail    string               `json:"contact_email" validate:"required,email"`
	ShippingAddress string               `json:"shipping_address" validate:"required,max=300"`
	City            string               `json:"city" validate:"required,max=80"`
	State           string               `json:"state" validate:"required,max=80"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=card bank_transfer pay_on_delivery"`
	CardLast4       string               `json:"card_last4" validate:"required_if=PaymentMethod card,max=4"`
	BankReference   string               `json:"bank_reference" validate:"required_if=PaymentMethod bank_transfer,max=64"`
	// IdempotencyKey сохраняется в заказе и передаётся в IdempotencyGuard.
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

func (f CheckoutForm) paymentReference() string {
	switch f.PaymentMethod {
	case models.PaymentCard:
		return "card ****" + f.CardLast4
	case models.PaymentBankTransfer:
		return f.BankReference
	}
	return ""
}

type CheckoutResult struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
	Trace []CheckoutState    `json:"trace"`
}

// IdempotencyGuard проверяется до записи заказа. Ошибка из Reserve
// останавливает попытку, не трогая хранилище. Release
// освобождает ключ, если попытка упала до появления заказа.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, buyerID, key string) error
	Release(ctx context.Context, buyerID, key string) error
}

type CheckoutRecorder interface {
	CheckoutFinished(marketplace, state string)
}

type CheckoutService struct {
	log      *slog.Logger
	tables   gateway.Tables
	cache    *cache.Cache
	events   events.Publisher
	guard    IdempotencyGuard
	recorder CheckoutRecorder
	now      func() time.Time
}

func NewCheckoutService(log *slog.Logger, tables gateway.Tables, c *cache.Cache, publisher events.Publisher) *CheckoutService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &CheckoutService{
		log:    log,
		tables: tables,
		cache:  c,
		events: publisher,
		now:    time.Now,
	}
}

func (s *CheckoutService) WithIdempotencyGuard(g IdempotencyGuard) *CheckoutService {
	s.guard = g
	return s
}

func (s *CheckoutService) WithRecorder(r CheckoutRecorder) *CheckoutService {
	s.recorder = r
	return s
}

// attempt отслеживает состояния, через которые проходит оформление.
type attempt struct {
	log   *slog.Logger
	state CheckoutState
	trace []CheckoutState
}

func (a *attempt) enter(state CheckoutState) {
	a.state = state
	a.trace = append(a.trace, state)
	a.log.Debug("checkout state", slog.String("state", string(state)))
}

// Checkout превращает корзину вызывающего в заказ. Шаги идут строго
// по порядку: заказ, позиции, очистка корзины. Сбой после записи заказа
// возвращается как *PartialWriteError, ничего не откатывается.
// Корзина чистится только после записи всех позиций.
func (s *CheckoutService) Checkout(ctx context.Context, m models.Marketplace, form CheckoutForm) (*CheckoutResult, error) {
	const op = "service.CheckoutService.Checkout"

	log := s.log.With(slog.String("op", op), slog.String("marketplace", string(m)))

	a := &attempt{log: log}
	a.enter(StateIdle)
	a.enter(StateCollectingForm)

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err := validateStruct(form); err != nil {
		log.Info("checkout form rejected", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("buyer_id", id.UserID))
	a.log = log
	a.enter(StateSubmitting)

	res, err := cache.Mutate(ctx, s.cache, cache.Mutation[CheckoutForm, *CheckoutResult]{
		Fn: func(ctx context.Context, form CheckoutForm) (*CheckoutResult, error) {
			return s.submit(ctx, a, m, id.UserID, form)
		},
		Invalidates: func(CheckoutForm, *CheckoutResult) []cache.Key {
			return []cache.Key{CartKey(m, id.UserID), OrdersKey(m, id.UserID)}
		},
		OnSuccess: func(_ CheckoutForm, res *CheckoutResult) {
			a.enter(StateComplete)
			s.publishOrderPlaced(ctx, log, m, id.UserID, res)
		},
		OnError: func(_ CheckoutForm, err error) {
			a.enter(StateFailed)
			log.Error("checkout failed", logger.Err(err))
		},
	}, form)
	s.finished(m, a.state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res.Trace = a.trace
	log.Info("checkout complete", slog.String("order_id", res.Order.ID))
	return res, nil
}

func (s *CheckoutService) submit(ctx context.Context, a *attempt, m models.Marketplace, buyerID string, form CheckoutForm) (*CheckoutResult, error) {
	lines, err := cartLines(ctx, s.tables, m, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, fieldError("cart", "is empty")
	}
	total, err := orderTotal(lines)
	if err != nil {
		return nil, err
	}

	reserved := form.IdempotencyKey != "" && s.guard != nil
	if reserved {
		if err := s.guard.Reserve(ctx, buyerID, form.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
	}

	a.enter(StateCreatingOrder)
	order, err := s.createOrder(ctx, m, buyerID, form, total)
	if err != nil {
		if reserved {
			if rerr := s.guard.Release(context.WithoutCancel(ctx), buyerID, form.IdempotencyKey); rerr != nil {
				a.log.Warn("failed to release idempotency key", logger.Err(rerr))
			}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	a.enter(StateCreatingOrderItems)
	items, err := s.createItems(ctx, m, order.ID, lines)
	if err != nil {
		return nil, &PartialWriteError{Step: StateCreatingOrderItems, OrderID: order.ID, Err: err}
	}

	a.enter(StateClearingCart)
	if err := s.tables.Delete(ctx, m.CartTable(), gateway.Where().Eq("user_id", buyerID)); err != nil {
		return nil, &PartialWriteError{Step: StateClearingCart, OrderID: order.ID, Err: err}
	}

	order.Items = items
	return &CheckoutResult{Order: order, Items: items}, nil
}

// orderTotal суммирует цену на количество по снимку корзины.
func orderTotal(lines []models.CartItem) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, line := range lines {
		if line.Listing == nil {
			return decimal.Zero, fieldError("cart", "listing "+line.ListingID+" is no longer available")
		}
		total = total.Add(line.Listing.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total, nil
}

type orderRow struct {
	BuyerID          string               `json:"buyer_id"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	ShippingAddress  string               `json:"shipping_address"`
	City             string               `json:"city"`
	State            string               `json:"state"`
	ContactName      string               `json:"contact_name"`
	ContactPhone     string               `json:"contact_phone"`
	ContactEmail     string               `json:"contact_email"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	PaymentReference string               `json:"payment_reference"`
	Status           models.OrderStatus   `json:"status"`
	IdempotencyKey   *string              `json:"idempotency_key,omitempty"`
}

type orderItemRow struct {
	OrderID   string          `json:"order_id"`
	ListingID string          `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (s *CheckoutService) createOrder(ctx context.Context, m models.Marketplace, buyerID string, form CheckoutForm, total decimal.Decimal) (models.Order, error) {
	row := orderRow{
		BuyerID:          buyerID,
		TotalAmount:      total,
		ShippingAddress:  form.ShippingAddress,
		City:             form.City,
		State:            form.State,
		ContactName:      form.ContactName,
		ContactPhone:     form.ContactPhone,
		ContactEmail:     form.ContactEmail,
		PaymentMethod:    form.PaymentMethod,
		PaymentReference: form.paymentReference(),
		Status:           models.OrderPending,
	}
	if form.IdempotencyKey != "" {
		key := form.IdempotencyKey
		row.IdempotencyKey = &key
	}

	var out []models.Order
	if err := s.tables.Insert(ctx, m.OrdersTable(), row, &out); err != nil {
		return models.Order{}, err
	}
	if len(out) == 0 {
		return models.Order{}, gateway.NewQueryError("insert order", fmt.Errorf("no row returned"))
	}
	return out[0], nil
}

// createItems пишет все позиции одним вызовом по ценам из снимка.
func (s *CheckoutService) createItems(ctx context.Context, m models.Marketplace, orderID string, lines []models.CartItem) ([]models.OrderItem, error) {
	rows := make([]orderItemRow, len(lines))
	for i, line := range lines {
		rows[i] = orderItemRow{
			OrderID:   orderID,
			ListingID: line.ListingID,
			Quantity:  line.Quantity,
			Price:     line.Listing.Price,
		}
	}

	var out []models.OrderItem
	if err := s.tables.Insert(ctx, m.OrderItemsTable(), rows, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CheckoutService) publishOrderPlaced(ctx context.Context, log *slog.Logger, m models.Marketplace, buyerID string, res *CheckoutResult) {
	err := s.events.Publish(ctx, events.Event{
		Type:        events.OrderPlaced,
		Marketplace: string(m),
		ActorID:     buyerID,
		EntityID:    res.Order.ID,
		Attributes: map[string]string{
			"total_amount":   res.Order.TotalAmount.String(),
			"items":          fmt.Sprint(len(res.Items)),
			"payment_method": string(res.Order.PaymentMethod),
		},
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		log.Warn("failed to publish order_placed", logger.Err(err))
	}
}

func (s *CheckoutService) finished(m models.Marketplace, state CheckoutState) {
	if s.recorder != nil {
		s.recorder.CheckoutFinished(string(m), string(state))
	}
}
