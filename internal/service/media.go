package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
)

const (
	ListingImagesBucket = "marketplace-images"
	PostImagesBucket    = "post-images"

	MaxImageSize = 5 << 20
)

type MediaService struct {
	log   *slog.Logger
	blobs gateway.Blobs
}

func NewMediaService(log *slog.Logger, blobs gateway.Blobs) *MediaService {
	return &MediaService{
		log:   log,
		blobs: blobs,
	}
}

// UploadListingImage сохраняет фото объявления в папку вызывающего
// и возвращает публичный URL.
func (s *MediaService) UploadListingImage(ctx context.Context, m models.Marketplace, filename string, data []byte) (string, error) {
	const op = "service.MediaService.UploadListingImage"

	if !m.Valid() {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	log := s.log.With(slog.String("op", op), slog.String("marketplace", string(m)))
	return s.upload(ctx, log, op, ListingImagesBucket, filename, data)
}

func (s *MediaService) UploadPostImage(ctx context.Context, filename string, data []byte) (string, error) {
	const op = "service.MediaService.UploadPostImage"

	log := s.log.With(slog.String("op", op))
	return s.upload(ctx, log, op, PostImagesBucket, filename, data)
}

func (s *MediaService) upload(ctx context.Context, log *slog.Logger, op, bucket, filename string, data []byte) (string, error) {
	id, err := caller(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case len(data) == 0:
		return "", fmt.Errorf("%s: %w", op, fieldError("file", "is empty"))
	case len(data) > MaxImageSize:
		return "", fmt.Errorf("%s: %w", op, fieldError("file", "must be at most 5MB"))
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s: %w", op, fieldError("file", "must be an image, got "+mt.String()))
	}

	ext := mt.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	path := id.UserID + "/" + uuid.NewString() + ext

	url, err := s.blobs.Upload(ctx, bucket, path, data, mt.String())
	if err != nil {
		log.Error("upload failed", slog.String("bucket", bucket), logger.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("image uploaded", slog.String("bucket", bucket), slog.String("path", path))
	return url, nil
}
