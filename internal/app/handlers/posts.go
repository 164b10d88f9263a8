package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/linemk/naijahub/internal/domain/models"
)

type PostReader interface {
	Latest(ctx context.Context, limit int) ([]models.Post, error)
}

type PostsResponse struct {
	Posts []models.Post `json:"posts"`
}

// ListPostsHandler обрабатывает запрос GET /api/posts?limit=N.
func ListPostsHandler(log *slog.Logger, svc PostReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListPostsHandler"
		logger := log.With(slog.String("op", op))

		var limit int
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{
					Error:  "validation failed",
					Fields: map[string]string{"limit": "must be a non-negative integer"},
				})
				return
			}
			limit = n
		}

		posts, err := svc.Latest(r.Context(), limit)
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}
		if posts == nil {
			posts = []models.Post{}
		}

		writeJSON(w, logger, http.StatusOK, PostsResponse{Posts: posts})
	}
}
