package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/service"
)

type Checkouter interface {
	Checkout(ctx context.Context, m models.Marketplace, form service.CheckoutForm) (*service.CheckoutResult, error)
}

type OrderReader interface {
	List(ctx context.Context, m models.Marketplace) ([]models.Order, error)
	Get(ctx context.Context, m models.Marketplace, orderID string) (*models.Order, error)
}

type OrdersResponse struct {
	Orders []models.Order `json:"orders"`
}

// CheckoutHandler обрабатывает запрос POST /api/{marketplace}/checkout. Заголовок
// Idempotency-Key используется, если в теле ключа нет.
func CheckoutHandler(log *slog.Logger, svc Checkouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var form service.CheckoutForm
		if !decodeJSON(w, r, logger, &form) {
			return
		}
		if form.IdempotencyKey == "" {
			form.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		res, err := svc.Checkout(r.Context(), m, form)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, res)
	}
}

// ListOrdersHandler обрабатывает запрос GET /api/{marketplace}/orders.
func ListOrdersHandler(log *slog.Logger, svc OrderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListOrdersHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		orders, err := svc.List(r.Context(), m)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}
		if orders == nil {
			orders = []models.Order{}
		}

		writeJSON(w, logger, http.StatusOK, OrdersResponse{Orders: orders})
	}
}

// GetOrderHandler обрабатывает запрос GET /api/{marketplace}/orders/{id}.
func GetOrderHandler(log *slog.Logger, svc OrderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		order, err := svc.Get(r.Context(), m, chi.URLParam(r, "id"))
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, order)
	}
}
