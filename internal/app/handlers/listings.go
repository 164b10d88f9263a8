package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/service"
	"github.com/shopspring/decimal"
)

type ListingReader interface {
	List(ctx context.Context, m models.Marketplace, f service.ListingFilter) ([]models.Listing, error)
	Get(ctx context.Context, m models.Marketplace, id string) (models.Listing, error)
}

type ListingWriter interface {
	Create(ctx context.Context, m models.Marketplace, in service.ListingInput) (models.Listing, error)
	Update(ctx context.Context, ref models.ListingRef, in service.ListingInput) (models.Listing, error)
	UpdateStatus(ctx context.Context, ref models.ListingRef, status models.ListingStatus) (models.Listing, error)
	Delete(ctx context.Context, ref models.ListingRef, confirmed bool) error
}

type ListingsResponse struct {
	Marketplace models.Marketplace `json:"marketplace"`
	Listings    []models.Listing   `json:"listings"`
}

type StatusRequest struct {
	Status models.ListingStatus `json:"status"`
}

// ListListingsHandler обрабатывает запрос GET /api/{marketplace}/listings.
// Параметры запроса: q, category, min_price, max_price, status, seller_id, limit, offset.
func ListListingsHandler(log *slog.Logger, svc ListingReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListListingsHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		f, fields := listingFilter(r)
		if len(fields) > 0 {
			writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
			return
		}

		listings, err := svc.List(r.Context(), m, f)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}
		if listings == nil {
			listings = []models.Listing{}
		}

		writeJSON(w, logger, http.StatusOK, ListingsResponse{Marketplace: m, Listings: listings})
	}
}

func listingFilter(r *http.Request) (service.ListingFilter, map[string]string) {
	q := r.URL.Query()
	fields := make(map[string]string)

	f := service.ListingFilter{
		Search:   q.Get("q"),
		Category: q.Get("category"),
		Status:   models.ListingStatus(q.Get("status")),
		SellerID: q.Get("seller_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		fields["status"] = "must be one of: active sold pending cancelled"
	}

	for name, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			fields[name] = "must be a number"
			continue
		}
		*dst = &d
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fields[name] = "must be a non-negative integer"
			continue
		}
		*dst = n
	}

	return f, fields
}

// GetListingHandler обрабатывает запрос GET /api/{marketplace}/listings/{id}.
func GetListingHandler(log *slog.Logger, svc ListingReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetListingHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		listing, err := svc.Get(r.Context(), m, chi.URLParam(r, "id"))
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, listing)
	}
}

// CreateListingHandler обрабатывает запрос POST /api/{marketplace}/listings.
func CreateListingHandler(log *slog.Logger, svc ListingWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateListingHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var in service.ListingInput
		if !decodeJSON(w, r, logger, &in) {
			return
		}

		listing, err := svc.Create(r.Context(), m, in)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, listing)
	}
}

// UpdateListingHandler обрабатывает запрос PUT /api/{marketplace}/listings/{id}.
func UpdateListingHandler(log *slog.Logger, svc ListingWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateListingHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var in service.ListingInput
		if !decodeJSON(w, r, logger, &in) {
			return
		}

		ref := models.ListingRef{Marketplace: m, ID: chi.URLParam(r, "id")}
		listing, err := svc.Update(r.Context(), ref, in)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, listing)
	}
}

// UpdateListingStatusHandler обрабатывает запрос PATCH /api/{marketplace}/listings/{id}/status.
func UpdateListingStatusHandler(log *slog.Logger, svc ListingWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateListingStatusHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		var req StatusRequest
		if !decodeJSON(w, r, logger, &req) {
			return
		}

		ref := models.ListingRef{Marketplace: m, ID: chi.URLParam(r, "id")}
		listing, err := svc.UpdateStatus(r.Context(), ref, req.Status)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, listing)
	}
}

// DeleteListingHandler обрабатывает запрос DELETE /api/{marketplace}/listings/{id}?confirm=true.
func DeleteListingHandler(log *slog.Logger, svc ListingWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DeleteListingHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
		ref := models.ListingRef{Marketplace: m, ID: chi.URLParam(r, "id")}

		if err := svc.Delete(r.Context(), ref, confirmed); err != nil {
			writeError(w, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
