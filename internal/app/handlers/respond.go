package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/linemk/naijahub/internal/service"
)

// ErrorResponse тело любой JSON ошибки.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	OrderID string            `json:"order_id,omitempty"`
	Step    string            `json:"step,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", logger.Err(err))
	}
}

// writeError переводит ошибки сервисов и шлюза в статусы. Ошибки хранилища
// отдаются общим сообщением, подробности только в лог.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		verr    *service.ValidationError
		partial *service.PartialWriteError
		gerr    *gateway.Error
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, service.ErrAuthRequired):
		writeJSON(w, log, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
	case errors.Is(err, service.ErrConfirmationRequired):
		writeJSON(w, log, http.StatusPreconditionRequired, ErrorResponse{Error: "confirmation required"})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, log, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, service.ErrDuplicateCheckout):
		writeJSON(w, log, http.StatusConflict, ErrorResponse{Error: "checkout already submitted"})
	case errors.As(err, &partial):
		log.Error("checkout left a partial write",
			slog.String("order_id", partial.OrderID),
			slog.String("step", string(partial.Step)),
			logger.Err(err),
		)
		writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{
			Error:   "checkout incomplete",
			OrderID: partial.OrderID,
			Step:    string(partial.Step),
		})
	case errors.As(err, &gerr) && gerr.Kind == gateway.KindNetwork:
		log.Error("store unavailable", logger.Err(err))
		writeJSON(w, log, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable, try again"})
	case errors.As(err, &gerr):
		log.Error("store rejected request", slog.String("kind", gerr.Kind.String()), logger.Err(err))
		writeJSON(w, log, http.StatusBadGateway, ErrorResponse{Error: "store rejected the request"})
	default:
		log.Error("request failed", logger.Err(err))
		writeJSON(w, log, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// serveStale сообщает, что err лишь помечает ранее закэшированные данные,
// тогда ответ помечается и данные всё равно отдаются.
func serveStale(w http.ResponseWriter, log *slog.Logger, err error) bool {
	var stale *service.StaleError
	if !errors.As(err, &stale) {
		return false
	}
	log.Warn("serving stale data", logger.Err(err))
	w.Header().Set("Warning", `110 - "Response is Stale"`)
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, log *slog.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Info("invalid request body", logger.Err(err))
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func marketplaceParam(w http.ResponseWriter, r *http.Request, log *slog.Logger) (models.Marketplace, bool) {
	m, err := models.ParseMarketplace(chi.URLParam(r, "marketplace"))
	if err != nil {
		writeJSON(w, log, http.StatusNotFound, ErrorResponse{Error: "unknown marketplace"})
		return "", false
	}
	return m, true
}
