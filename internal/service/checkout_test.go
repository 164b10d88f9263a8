package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/events"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/linemk/naijahub/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyer = "buyer-1"

var (
	cartTable  = models.MarketplaceTech.CartTable()
	orderTable = models.MarketplaceTech.OrdersTable()
	itemsTable = models.MarketplaceTech.OrderItemsTable()
)

type stateRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *stateRecorder) CheckoutFinished(_, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

// shop tech корзина из двух объявлений: A по 1000 x2 и B по 500 x1.
type shop struct {
	mu      sync.Mutex
	cleared bool
	tables  *fakeTables
}

func newShop() *shop {
	s := &shop{tables: &fakeTables{}}
	s.tables.selectFn = func(q gateway.Query) (any, error) {
		if q.Table != cartTable {
			return []any{}, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cleared {
			return []any{}, nil
		}
		return []map[string]any{
			{"id": "c1", "user_id": buyer, "listing_id": "A", "quantity": 2, "listing": map[string]any{"id": "A", "title": "Phone", "price": "1000"}},
			{"id": "c2", "user_id": buyer, "listing_id": "B", "quantity": 1, "listing": map[string]any{"id": "B", "title": "Case", "price": 500}},
		}, nil
	}
	s.tables.deleteFn = func(table string, _ gateway.Filter) error {
		if table == cartTable {
			s.mu.Lock()
			s.cleared = true
			s.mu.Unlock()
		}
		return nil
	}
	return s
}

func validForm() service.CheckoutForm {
	return service.CheckoutForm{
		ContactName:     "Ada Obi",
		ContactPhone:    "08031234567",
		ContactEmail:    "ada@example.com",
		ShippingAddress: "12 Marina Road",
		City:            "Lagos",
		State:           "Lagos",
		PaymentMethod:   models.PaymentOnDelivery,
	}
}

func TestCheckout_Success(t *testing.T) {
	s := newShop()
	c := newCache()
	pub := &fakePublisher{}
	rec := &stateRecorder{}
	log := slogdiscard.NewDiscardLogger()

	checkout := service.NewCheckoutService(log, s.tables, c, pub).WithRecorder(rec)
	carts := service.NewCartService(log, s.tables, c)

	before, err := carts.Get(as(buyer), models.MarketplaceTech)
	require.NoError(t, err)
	require.Len(t, before, 2)

	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(2500).Equal(res.Order.TotalAmount), "total %s", res.Order.TotalAmount)
	assert.Equal(t, models.OrderPending, res.Order.Status)
	assert.Equal(t, buyer, res.Order.BuyerID)

	require.Len(t, res.Items, 2)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Items[0].Price))
	assert.Equal(t, 2, res.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(500).Equal(res.Items[1].Price))
	for _, it := range res.Items {
		assert.Equal(t, res.Order.ID, it.OrderID)
		assert.False(t, it.CreatedAt.Before(res.Order.CreatedAt))
	}

	assert.Equal(t, []string{
		"select:" + cartTable,
		"select:" + cartTable,
		"insert:" + orderTable,
		"insert:" + itemsTable,
		"delete:" + cartTable,
	}, s.tables.ops())

	assert.Equal(t, []service.CheckoutState{
		service.StateIdle,
		service.StateCollectingForm,
		service.StateSubmitting,
		service.StateCreatingOrder,
		service.StateCreatingOrderItems,
		service.StateClearingCart,
		service.StateComplete,
	}, res.Trace)

	del := s.tables.last("delete")
	v, ok := filterValue(del.Filter, "user_id")
	require.True(t, ok)
	assert.Equal(t, buyer, v)

	// ключ корзины инвалидирован, поэтому читается пустая корзина
	after, err := carts.Get(as(buyer), models.MarketplaceTech)
	require.NoError(t, err)
	assert.Empty(t, after)

	assert.Equal(t, []string{events.OrderPlaced}, pub.types())
	assert.Equal(t, []string{"complete"}, rec.states)
}

func TestCheckout_ItemsWrittenInOneCall(t *testing.T) {
	s := newShop()
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil)

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())
	require.NoError(t, err)

	assert.Equal(t, 1, s.tables.count("insert", itemsTable))

	var items call
	for _, c := range s.tables.calls {
		if c.Op == "insert" && c.Table == itemsTable {
			items = c
		}
	}
	rows := rowsOf(t, items.Rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["listing_id"])
	assert.Equal(t, "1000", rows[0]["price"])
	assert.EqualValues(t, 2, rows[0]["quantity"])
	assert.Equal(t, "B", rows[1]["listing_id"])
	assert.Equal(t, "500", rows[1]["price"])
}

func TestCheckout_ItemsFailureKeepsOrderAndCart(t *testing.T) {
	s := newShop()
	boom := &gateway.Error{Kind: gateway.KindNetwork, Op: "insert", Message: "timeout"}
	s.tables.insertFn = func(table string, rows any) (any, error) {
		if table == itemsTable {
			return nil, boom
		}
		return s.tables.echo(table, rows), nil
	}
	c := newCache()
	pub := &fakePublisher{}
	rec := &stateRecorder{}
	log := slogdiscard.NewDiscardLogger()
	checkout := service.NewCheckoutService(log, s.tables, c, pub).WithRecorder(rec)
	carts := service.NewCartService(log, s.tables, c)

	_, err := carts.Get(as(buyer), models.MarketplaceTech)
	require.NoError(t, err)

	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())
	require.Error(t, err)
	assert.Nil(t, res)

	var partial *service.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, service.StateCreatingOrderItems, partial.Step)
	assert.Equal(t, orderTable+"-1", partial.OrderID)
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))

	assert.Zero(t, s.tables.count("delete", cartTable))
	assert.Equal(t, 1, s.tables.count("insert", orderTable))

	// ничего не инвалидировано, отдаётся корзина из кэша
	cart, err := carts.Get(as(buyer), models.MarketplaceTech)
	require.NoError(t, err)
	assert.Len(t, cart, 2)
	assert.Equal(t, 2, s.tables.count("select", cartTable))

	assert.Empty(t, pub.types())
	assert.Equal(t, []string{"failed"}, rec.states)
}

func TestCheckout_ClearFailureIsPartial(t *testing.T) {
	s := newShop()
	s.tables.deleteFn = func(string, gateway.Filter) error {
		return &gateway.Error{Kind: gateway.KindAuth, Op: "delete", Status: 403}
	}
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil)

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())

	var partial *service.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, service.StateClearingCart, partial.Step)
	assert.NotEmpty(t, partial.OrderID)
	assert.Equal(t, 1, s.tables.count("insert", itemsTable))
}

func TestCheckout_OrderFailureStopsEarly(t *testing.T) {
	s := newShop()
	s.tables.insertFn = func(string, any) (any, error) {
		return nil, &gateway.Error{Kind: gateway.KindQuery, Op: "insert", Code: "23502"}
	}
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil)

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())
	require.Error(t, err)

	var partial *service.PartialWriteError
	assert.False(t, errors.As(err, &partial))
	assert.True(t, gateway.IsKind(err, gateway.KindQuery))
	assert.Equal(t, []string{"select:" + cartTable, "insert:" + orderTable}, s.tables.ops())
}

func TestCheckout_RejectsBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name  string
		ctx   context.Context
		form  func(f *service.CheckoutForm)
		field string
		auth  bool
	}{
		{
			name:  "missing email",
			ctx:   as(buyer),
			form:  func(f *service.CheckoutForm) { f.ContactEmail = "" },
			field: "contact_email",
		},
		{
			name:  "malformed email",
			ctx:   as(buyer),
			form:  func(f *service.CheckoutForm) { f.ContactEmail = "not-an-email" },
			field: "contact_email",
		},
		{
			name:  "unknown payment method",
			ctx:   as(buyer),
			form:  func(f *service.CheckoutForm) { f.PaymentMethod = "crypto" },
			field: "payment_method",
		},
		{
			name:  "card without last digits",
			ctx:   as(buyer),
			form:  func(f *service.CheckoutForm) { f.PaymentMethod = models.PaymentCard },
			field: "card_last4",
		},
		{
			name:  "bank transfer without reference",
			ctx:   as(buyer),
			form:  func(f *service.CheckoutForm) { f.PaymentMethod = models.PaymentBankTransfer },
			field: "bank_reference",
		},
		{
			name: "anonymous caller",
			ctx:  context.Background(),
			form: func(*service.CheckoutForm) {},
			auth: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newShop()
			rec := &stateRecorder{}
			checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil).WithRecorder(rec)

			form := validForm()
			tc.form(&form)
			_, err := checkout.Checkout(tc.ctx, models.MarketplaceTech, form)
			require.Error(t, err)

			if tc.auth {
				assert.ErrorIs(t, err, service.ErrAuthRequired)
			} else {
				var verr *service.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, tc.field)
			}
			assert.Empty(t, s.tables.ops())
			assert.Empty(t, rec.states)
		})
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	tables := &fakeTables{}
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), tables, newCache(), nil)

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())

	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "cart")
	assert.Equal(t, []string{"select:" + cartTable}, tables.ops())
}

type guard struct {
	seen     map[string]bool
	released []string
}

func (g *guard) Reserve(_ context.Context, buyerID, key string) error {
	if g.seen[buyerID+key] {
		return service.ErrDuplicateCheckout
	}
	g.seen[buyerID+key] = true
	return nil
}

func (g *guard) Release(_ context.Context, buyerID, key string) error {
	g.released = append(g.released, key)
	delete(g.seen, buyerID+key)
	return nil
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	s := newShop()
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil).
		WithIdempotencyGuard(&guard{seen: map[string]bool{}})

	form := validForm()
	form.IdempotencyKey = "attempt-1"

	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	require.NoError(t, err)
	require.NotNil(t, res.Order.IdempotencyKey)
	assert.Equal(t, "attempt-1", *res.Order.IdempotencyKey)

	s.mu.Lock()
	s.cleared = false
	s.mu.Unlock()

	_, err = checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	require.ErrorIs(t, err, service.ErrDuplicateCheckout)
	assert.Equal(t, 1, s.tables.count("insert", orderTable))
}

func TestCheckout_PaymentReference(t *testing.T) {
	s := newShop()
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil)

	form := validForm()
	form.PaymentMethod = models.PaymentCard
	form.CardLast4 = "4242"

	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCard, res.Order.PaymentMethod)
	assert.Equal(t, "card ****4242", res.Order.PaymentReference)
}

func TestCheckout_ListingPriceChangeLeavesHistory(t *testing.T) {
	s := newShop()
	c := newCache()
	log := slogdiscard.NewDiscardLogger()
	checkout := service.NewCheckoutService(log, s.tables, c, nil)
	listings := service.NewListingService(log, s.tables, c, nil)

	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, validForm())
	require.NoError(t, err)

	s.tables.updateFn = func(table string, _ gateway.Filter, patch any) (any, error) {
		row := rowsOf(t, patch)[0]
		row["id"] = "A"
		row["updated_at"] = time.Now().UTC()
		return []any{row}, nil
	}

	in := validListing()
	in.Price = decimal.NewFromInt(1500)
	_, err = listings.Update(as("seller-1"), models.ListingRef{Marketplace: models.MarketplaceTech, ID: "A"}, in)
	require.NoError(t, err)

	upd := s.tables.last("update")
	assert.Equal(t, models.MarketplaceTech.ListingsTable(), upd.Table)
	assert.Equal(t, 1, s.tables.count("insert", itemsTable))
	assert.Zero(t, s.tables.count("update", itemsTable))
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Items[0].Price))
}

func TestCheckout_FailedOrderReleasesIdempotencyKey(t *testing.T) {
	s := newShop()
	failing := true
	s.tables.insertFn = func(table string, rows any) (any, error) {
		if table == orderTable && failing {
			return nil, &gateway.Error{Kind: gateway.KindNetwork, Op: "insert", Message: "timeout"}
		}
		return s.tables.echo(table, rows), nil
	}
	g := &guard{seen: map[string]bool{}}
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil).
		WithIdempotencyGuard(g)

	form := validForm()
	form.IdempotencyKey = "attempt-1"

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	require.True(t, gateway.IsKind(err, gateway.KindNetwork))
	assert.Equal(t, []string{"attempt-1"}, g.released)

	// покупатель повторяет с тем же ключом, когда хранилище поднялось
	failing = false
	res, err := checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	require.NoError(t, err)
	assert.Equal(t, "attempt-1", *res.Order.IdempotencyKey)
	assert.Equal(t, []string{"attempt-1"}, g.released)
}

func TestCheckout_PartialWriteKeepsIdempotencyKey(t *testing.T) {
	s := newShop()
	s.tables.insertFn = func(table string, rows any) (any, error) {
		if table == itemsTable {
			return nil, &gateway.Error{Kind: gateway.KindNetwork, Op: "insert", Message: "timeout"}
		}
		return s.tables.echo(table, rows), nil
	}
	g := &guard{seen: map[string]bool{}}
	checkout := service.NewCheckoutService(slogdiscard.NewDiscardLogger(), s.tables, newCache(), nil).
		WithIdempotencyGuard(g)

	form := validForm()
	form.IdempotencyKey = "attempt-1"

	_, err := checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	var partial *service.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Empty(t, g.released)

	_, err = checkout.Checkout(as(buyer), models.MarketplaceTech, form)
	assert.ErrorIs(t, err, service.ErrDuplicateCheckout)
}
