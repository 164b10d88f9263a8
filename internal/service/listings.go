package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/events"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/shopspring/decimal"
)

const (
	defaultListingLimit = 50
	maxListingLimit     = 100
)

// ListingFilter сужает выборку. Пустой Status означает активные объявления.
type ListingFilter struct {
	Search   string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Status   models.ListingStatus
	SellerID string
	Limit    int
	Offset   int
}

func (f ListingFilter) status() models.ListingStatus {
	if f.Status == "" {
		return models.ListingActive
	}
	return f.Status
}

func (f ListingFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListingLimit
	case f.Limit > maxListingLimit:
		return maxListingLimit
	}
	return f.Limit
}

func (f ListingFilter) query(m models.Marketplace) gateway.Query {
	flt := gateway.Where().Eq("status", string(f.status()))
	if f.Search != "" {
		flt = flt.ILike("title", f.Search)
	}
	if f.Category != "" {
		flt = flt.Eq(m.CategoryColumn(), f.Category)
	}
	if f.MinPrice != nil {
		flt = flt.Gte("price", f.MinPrice.String())
	}
	if f.MaxPrice != nil {
		flt = flt.Lte("price", f.MaxPrice.String())
	}
	if f.SellerID != "" {
		flt = flt.Eq("seller_id", f.SellerID)
	}

	return gateway.Query{
		Table:  m.ListingsTable(),
		Filter: flt,
		Order:  []gateway.Order{{Column: "created_at", Desc: true}},
		Limit:  f.limit(),
		Offset: f.Offset,
	}
}

// ListingInput форма создания и редактирования. Поля чужой вертикали
// игнорируются.
type ListingInput struct {
	Title       string               `json:"title" validate:"required,min=3,max=120"`
	Description string               `json:"description" validate:"max=5000"`
	Price       decimal.Decimal      `json:"price" validate:"gte=0"`
	Condition   models.Condition     `json:"condition" validate:"required,oneof=new used refurbished"`
	Images      []string             `json:"images" validate:"max=10,dive,url"`
	Status      models.ListingStatus `json:"status" validate:"omitempty,oneof=active sold pending cancelled"`

	Category    string `json:"category" validate:"max=60"`
	Brand       string `json:"brand" validate:"max=60"`
	Make        string `json:"make" validate:"max=60"`
	Model       string `json:"model" validate:"max=60"`
	Year        int    `json:"year" validate:"omitempty,gte=1950,lte=2100"`
	Mileage     int    `json:"mileage" validate:"gte=0"`
	ProductType string `json:"product_type" validate:"max=60"`
}

func (in ListingInput) validateFor(m models.Marketplace) error {
	if err := validateStruct(in); err != nil {
		return err
	}

	fields := make(map[string]string)
	switch m {
	case models.MarketplaceTech:
		if in.Category == "" {
			fields["category"] = "is required"
		}
	case models.MarketplaceAuto:
		if in.Make == "" {
			fields["make"] = "is required"
		}
		if in.Model == "" {
			fields["model"] = "is required"
		}
		if in.Year == 0 {
			fields["year"] = "is required"
		}
	case models.MarketplaceBeauty:
		if in.ProductType == "" {
			fields["product_type"] = "is required"
		}
	}
	if in.Status == models.ListingActive && len(in.Images) == 0 {
		fields["images"] = imagesRequired
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (in ListingInput) columns(m models.Marketplace) map[string]any {
	images := in.Images
	if images == nil {
		images = []string{}
	}

	row := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"price":       in.Price.String(),
		"condition":   string(in.Condition),
		"images":      images,
	}
	if in.Status != "" {
		row["status"] = string(in.Status)
	}

	switch m {
	case models.MarketplaceTech:
		row["category"] = in.Category
		row["brand"] = in.Brand
	case models.MarketplaceAuto:
		row["make"] = in.Make
		row["model"] = in.Model
		row["year"] = in.Year
		row["mileage"] = in.Mileage
	case models.MarketplaceBeauty:
		row["product_type"] = in.ProductType
		row["brand"] = in.Brand
	}
	return row
}

const imagesRequired = "at least one image is required for an active listing"

type ListingService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
	events events.Publisher
	now    func() time.Time
}

func NewListingService(log *slog.Logger, tables gateway.Tables, c *cache.Cache, publisher events.Publisher) *ListingService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ListingService{
		log:    log,
		tables: tables,
		cache:  c,
		events: publisher,
		now:    time.Now,
	}
}

// List возвращает страницу объявлений вертикали. Выборка активных объявлений
// общая для всех, остальные статусы кэшируются по вызывающему.
func (s *ListingService) List(ctx context.Context, m models.Marketplace, f ListingFilter) ([]models.Listing, error) {
	const op = "service.ListingService.List"

	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	key := ListingsKey(m).With("list")
	if f.status() != models.ListingActive {
		viewer := "anon"
		if id, ok := callerID(ctx); ok {
			viewer = id
		}
		key = key.With("viewer", viewer)
	}
	key = key.With(f.keyParts()...)

	res := cache.Query(ctx, s.cache, key, func(ctx context.Context) ([]models.Listing, error) {
		var raw []json.RawMessage
		if err := s.tables.Select(ctx, f.query(m), &raw); err != nil {
			return nil, err
		}
		return decodeListings(m, raw)
	}, cache.Options{})

	listings, err := resolve(res)
	if err != nil {
		return listings, fmt.Errorf("%s: %w", op, err)
	}
	return listings, nil
}

func (s *ListingService) Get(ctx context.Context, m models.Marketplace, id string) (models.Listing, error) {
	const op = "service.ListingService.Get"

	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	ref := models.ListingRef{Marketplace: m, ID: id}

	res := cache.Query(ctx, s.cache, listingKey(ref), func(ctx context.Context) (models.Listing, error) {
		var raw []json.RawMessage
		q := gateway.Query{
			Table:  m.ListingsTable(),
			Filter: gateway.Where().Eq("id", id),
			Limit:  1,
		}
		if err := s.tables.Select(ctx, q, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, ErrNotFound
		}
		return decodeListing(m, raw[0])
	}, cache.Options{})

	listing, err := resolve(res)
	if err != nil {
		return listing, fmt.Errorf("%s: %w", op, err)
	}
	return listing, nil
}

// Create создаёт объявление вызывающего. Без явного статуса
// объявление публикуется, только если есть фото.
func (s *ListingService) Create(ctx context.Context, m models.Marketplace, in ListingInput) (models.Listing, error) {
	const op = "service.ListingService.Create"

	log := s.log.With(slog.String("op", op), slog.String("marketplace", string(m)))

	if !m.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if in.Status == "" {
		in.Status = models.ListingPending
		if len(in.Images) > 0 {
			in.Status = models.ListingActive
		}
	}
	if err := in.validateFor(m); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	row := in.columns(m)
	row["seller_id"] = id.UserID

	listing, err := cache.Mutate(ctx, s.cache, cache.Mutation[map[string]any, models.Listing]{
		Fn: func(ctx context.Context, row map[string]any) (models.Listing, error) {
			var out []json.RawMessage
			if err := s.tables.Insert(ctx, m.ListingsTable(), row, &out); err != nil {
				return nil, err
			}
			if len(out) == 0 {
				return nil, gateway.NewQueryError(op, fmt.Errorf("insert returned no rows"))
			}
			return decodeListing(m, out[0])
		},
		Invalidates: func(map[string]any, models.Listing) []cache.Key {
			return []cache.Key{ListingsKey(m)}
		},
		OnSuccess: func(_ map[string]any, l models.Listing) {
			s.publish(ctx, log, events.ListingCreated, m, id.UserID, l.Base().ID)
		},
	}, row)
	if err != nil {
		log.Error("failed to create listing", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("listing created", slog.String("listing_id", listing.Base().ID))
	return listing, nil
}

// Update заменяет редактируемые поля объявления. Инвалидируется только
// его вертикаль.
func (s *ListingService) Update(ctx context.Context, ref models.ListingRef, in ListingInput) (models.Listing, error) {
	const op = "service.ListingService.Update"

	if _, err := caller(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ref.Marketplace.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err := in.validateFor(ref.Marketplace); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// patch всегда переписывает images, у живого объявления должно остаться хотя бы одно фото
	if in.Status == "" && len(in.Images) == 0 {
		cur, err := s.current(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if cur.Status == models.ListingActive {
			return nil, fmt.Errorf("%s: %w", op, fieldError("images", imagesRequired))
		}
	}

	patch := in.columns(ref.Marketplace)
	return s.patch(ctx, op, ref, patch, events.ListingChanged)
}

// UpdateStatus путь модерации: меняется только колонка status.
func (s *ListingService) UpdateStatus(ctx context.Context, ref models.ListingRef, status models.ListingStatus) (models.Listing, error) {
	const op = "service.ListingService.UpdateStatus"

	if _, err := caller(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ref.Marketplace.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%s: %w", op, fieldError("status", "must be one of: active sold pending cancelled"))
	}
	if status == models.ListingActive {
		cur, err := s.current(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(cur.Images) == 0 {
			return nil, fmt.Errorf("%s: %w", op, fieldError("images", imagesRequired))
		}
	}

	return s.patch(ctx, op, ref, map[string]any{"status": string(status)}, events.ListingChanged)
}

type listingState struct {
	Status models.ListingStatus `json:"status"`
	Images []string             `json:"images"`
}

// current читает состояние публикации объявления прямо из хранилища.
func (s *ListingService) current(ctx context.Context, ref models.ListingRef) (listingState, error) {
	var rows []listingState
	q := gateway.Query{
		Table:   ref.Marketplace.ListingsTable(),
		Columns: "id,status,images",
		Filter:  gateway.Where().Eq("id", ref.ID),
		Limit:   1,
	}
	if err := s.tables.Select(ctx, q, &rows); err != nil {
		return listingState{}, err
	}
	if len(rows) == 0 {
		return listingState{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *ListingService) patch(ctx context.Context, op string, ref models.ListingRef, patch map[string]any, eventType string) (models.Listing, error) {
	log := s.log.With(
		slog.String("op", op),
		slog.String("marketplace", string(ref.Marketplace)),
		slog.String("listing_id", ref.ID),
	)
	id, _ := callerID(ctx)

	patch["updated_at"] = s.now().UTC()

	listing, err := cache.Mutate(ctx, s.cache, cache.Mutation[map[string]any, models.Listing]{
		Fn: func(ctx context.Context, patch map[string]any) (models.Listing, error) {
			var out []json.RawMessage
			err := s.tables.Update(ctx, ref.Marketplace.ListingsTable(), gateway.Where().Eq("id", ref.ID), patch, &out)
			if err != nil {
				return nil, err
			}
			if len(out) == 0 {
				return nil, ErrNotFound
			}
			return decodeListing(ref.Marketplace, out[0])
		},
		Invalidates: func(map[string]any, models.Listing) []cache.Key {
			return []cache.Key{ListingsKey(ref.Marketplace)}
		},
		OnSuccess: func(map[string]any, models.Listing) {
			s.publish(ctx, log, eventType, ref.Marketplace, id, ref.ID)
		},
	}, patch)
	if err != nil {
		log.Error("failed to update listing", logger.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("listing updated")
	return listing, nil
}

// Delete удаляет объявление. Без подтверждения в хранилище ничего не уходит.
func (s *ListingService) Delete(ctx context.Context, ref models.ListingRef, confirmed bool) error {
	const op = "service.ListingService.Delete"

	log := s.log.With(
		slog.String("op", op),
		slog.String("marketplace", string(ref.Marketplace)),
		slog.String("listing_id", ref.ID),
	)

	id, err := caller(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !confirmed {
		return fmt.Errorf("%s: %w", op, ErrConfirmationRequired)
	}
	if !ref.Marketplace.Valid() {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	_, err = cache.Mutate(ctx, s.cache, cache.Mutation[models.ListingRef, struct{}]{
		Fn: func(ctx context.Context, ref models.ListingRef) (struct{}, error) {
			return struct{}{}, s.tables.Delete(ctx, ref.Marketplace.ListingsTable(), gateway.Where().Eq("id", ref.ID))
		},
		Invalidates: func(ref models.ListingRef, _ struct{}) []cache.Key {
			return []cache.Key{ListingsKey(ref.Marketplace)}
		},
		OnSuccess: func(ref models.ListingRef, _ struct{}) {
			s.publish(ctx, log, events.ListingDeleted, ref.Marketplace, id.UserID, ref.ID)
		},
	}, ref)
	if err != nil {
		log.Error("failed to delete listing", logger.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("listing deleted")
	return nil
}

func (s *ListingService) publish(ctx context.Context, log *slog.Logger, eventType string, m models.Marketplace, actorID, listingID string) {
	err := s.events.Publish(ctx, events.Event{
		Type:        eventType,
		Marketplace: string(m),
		ActorID:     actorID,
		EntityID:    listingID,
		OccurredAt:  s.now().UTC(),
	})
	if err != nil {
		log.Warn("failed to publish event", slog.String("type", eventType), logger.Err(err))
	}
}

func decodeListings(m models.Marketplace, raw []json.RawMessage) ([]models.Listing, error) {
	out := make([]models.Listing, 0, len(raw))
	for _, r := range raw {
		l, err := decodeListing(m, r)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// decodeListing выбирает вариант для m и декодирует в него строку.
func decodeListing(m models.Marketplace, raw json.RawMessage) (models.Listing, error) {
	var l models.Listing
	switch m {
	case models.MarketplaceTech:
		l = &models.TechListing{}
	case models.MarketplaceAuto:
		l = &models.AutoListing{}
	case models.MarketplaceBeauty:
		l = &models.BeautyListing{}
	default:
		return nil, fmt.Errorf("unknown marketplace %q", m)
	}

	if err := json.Unmarshal(raw, l); err != nil {
		return nil, gateway.NewQueryError("decode "+string(m)+" listing", err)
	}
	return l, nil
}
