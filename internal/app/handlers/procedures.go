package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/linemk/naijahub/internal/service"
)

type ProcedureCaller interface {
	MapToken(ctx context.Context) (string, error)
	TriggerNewsIngestion(ctx context.Context) (*service.NewsIngestion, error)
}

type MapTokenResponse struct {
	Token string `json:"token"`
}

// MapTokenHandler обрабатывает запрос GET /api/map-token.
func MapTokenHandler(log *slog.Logger, svc ProcedureCaller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MapTokenHandler"
		logger := log.With(slog.String("op", op))

		token, err := svc.MapToken(r.Context())
		if err != nil && !serveStale(w, logger, err) {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusOK, MapTokenResponse{Token: token})
	}
}

// RefreshNewsHandler обрабатывает запрос POST /api/news/refresh.
func RefreshNewsHandler(log *slog.Logger, svc ProcedureCaller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RefreshNewsHandler"
		logger := log.With(slog.String("op", op))

		out, err := svc.TriggerNewsIngestion(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusAccepted, out)
	}
}

// HealthHandler обрабатывает запрос GET /healthz.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}
