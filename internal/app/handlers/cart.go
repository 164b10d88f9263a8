package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/naijahub/internal/domain/models"
)

type CartManager interface {
	Get(ctx context.Context, m models.Marketplace) ([]models.CartItem, error)
	Add(ctx context.Context, m models.Marketplace, listingID string, qty int) (*models.CartItem, error)
	UpdateQuantity(ctx context.Context, m models.Marketplace, itemID string, qty int) (*models.CartItem, error)
	Remove(ctx context.Context, m models.Marketplace, itemID string) error
}

type AddToCartRequest struct {
	ListingID string `json:"listing_id"`
	Quantity  *int   `json:"quantity"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	Items []models.CartItem `json:"items"`
}

// GetCartHandler обрабатывает запрос GET /api/{marketplace}/cart.
func GetCartHandler(log *slog.Logger, svc CartManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetCartHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		items, err := svc.Get(r.Context(), m)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}
		if items == nil {
			items = []models.CartItem{}
		}

		writeJSON(w, logger, http.StatusOK, CartResponse{Items: items})
	}
}

// AddToCartHandler обрабатывает запрос POST /api/{marketplace}/cart. По умолчанию количество 1.
func AddToCartHandler(log *slog.Logger, svc CartManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AddToCartHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var req AddToCartRequest
		if !decodeJSON(w, r, logger, &req) {
			return
		}
		qty := 1
		if req.Quantity != nil {
			qty = *req.Quantity
		}

		item, err := svc.Add(r.Context(), m, req.ListingID, qty)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, item)
	}
}

// UpdateCartItemHandler обрабатывает запрос PATCH /api/{marketplace}/cart/{itemID}.
// Нулевое количество удаляет строку, ответ 204.
func UpdateCartItemHandler(log *slog.Logger, svc CartManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateCartItemHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var req QuantityRequest
		if !decodeJSON(w, r, logger, &req) {
			return
		}

		item, err := svc.UpdateQuantity(r.Context(), m, chi.URLParam(r, "itemID"), req.Quantity)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if item == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeJSON(w, logger, http.StatusOK, item)
	}
}

// RemoveCartItemHandler обрабатывает запрос DELETE /api/{marketplace}/cart/{itemID}.
func RemoveCartItemHandler(log *slog.Logger, svc CartManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RemoveCartItemHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		if err := svc.Remove(r.Context(), m, chi.URLParam(r, "itemID")); err != nil {
			writeError(w, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
