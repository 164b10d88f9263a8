package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/linemk/naijahub/internal/service"
)

type ImageUploader interface {
	UploadListingImage(ctx context.Context, m models.Marketplace, filename string, data []byte) (string, error)
	UploadPostImage(ctx context.Context, filename string, data []byte) (string, error)
}

type UploadResponse struct {
	URL string `json:"url"`
}

// UploadListingImageHandler обрабатывает запрос POST /api/{marketplace}/images,
// multipart форма с одной частью "file".
func UploadListingImageHandler(log *slog.Logger, svc ImageUploader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UploadListingImageHandler"
		logger := log.With(slog.String("op", op))

		m, ok := marketplaceParam(w, r, logger)
		if !ok {
			return
		}

		name, data, ok := readUpload(w, r, logger)
		if !ok {
			return
		}

		url, err := svc.UploadListingImage(r.Context(), m, name, data)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, UploadResponse{URL: url})
	}
}

// UploadPostImageHandler обрабатывает запрос POST /api/posts/images.
func UploadPostImageHandler(log *slog.Logger, svc ImageUploader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UploadPostImageHandler"
		logger := log.With(slog.String("op", op))

		name, data, ok := readUpload(w, r, logger)
		if !ok {
			return
		}

		url, err := svc.UploadPostImage(r.Context(), name, data)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, logger, http.StatusCreated, UploadResponse{URL: url})
	}
}

func readUpload(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, []byte, bool) {
	// небольшой запас на обвязку multipart
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxImageSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, log, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
			return "", nil, false
		}
		log.Info("missing upload", logger.Err(err))
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"file": "is required"},
		})
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, log, err)
		return "", nil, false
	}
	return header.Filename, data, true
}
