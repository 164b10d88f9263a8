package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/linemk/naijahub/internal/service"
)

type DashboardReader interface {
	Overview(ctx context.Context) (*service.Dashboard, error)
}

// DashboardHandler обрабатывает запрос GET /api/dashboard.
func DashboardHandler(log *slog.Logger, svc DashboardReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DashboardHandler"
		logger := log.With(slog.String("op", op))

		d, err := svc.Overview(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if d.Stale {
			w.Header().Set("Warning", `110 - "Response is Stale"`)
		}

		writeJSON(w, logger, http.StatusOK, d)
	}
}
