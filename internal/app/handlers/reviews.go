package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/service"
)

type ReviewManager interface {
	Create(ctx context.Context, in service.ReviewInput) (*models.Review, error)
	List(ctx context.Context, target models.ReviewTarget) ([]models.Review, error)
	Summary(ctx context.Context, target models.ReviewTarget) (*service.ReviewSummary, error)
}

type ReviewsResponse struct {
	Reviews []models.Review `json:"reviews"`
}

func reviewTarget(w http.ResponseWriter, r *http.Request, log *slog.Logger) (models.ReviewTarget, bool) {
	target := models.ReviewTarget{
		Kind: models.TargetKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	if !target.Kind.Valid() {
		writeJSON(w, log, http.StatusNotFound, ErrorResponse{Error: "unknown review target"})
		return target, false
	}
	return target, true
}

// CreateReviewHandler обрабатывает запрос POST /api/reviews.
func CreateReviewHandler(log *slog.Logger, svc ReviewManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateReviewHandler"
		logger := log.With(slog.String("op", op))

		var in service.ReviewInput
		if !decodeJSON(w, r, logger, &in) {
			return
		}

		review, err := svc.Create(r.Context(), in)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, review)
	}
}

// ListReviewsHandler обрабатывает запрос GET /api/reviews/{kind}/{id}.
func ListReviewsHandler(log *slog.Logger, svc ReviewManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListReviewsHandler"
		logger := log.With(slog.String("op", op))

		target, ok := reviewTarget(w, r, logger)
		if !ok {
			return
		}

		reviews, err := svc.List(r.Context(), target)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}
		if reviews == nil {
			reviews = []models.Review{}
		}

		writeJSON(w, logger, http.StatusOK, ReviewsResponse{Reviews: reviews})
	}
}

// ReviewSummaryHandler обрабатывает запрос GET /api/reviews/{kind}/{id}/summary.
func ReviewSummaryHandler(log *slog.Logger, svc ReviewManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ReviewSummaryHandler"
		logger := log.With(slog.String("op", op))

		target, ok := reviewTarget(w, r, logger)
		if !ok {
			return
		}

		summary, err := svc.Summary(r.Context(), target)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, summary)
	}
}
