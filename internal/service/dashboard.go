package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
	"github.com/linemk/naijahub/internal/gateway"
	"github.com/linemk/naijahub/internal/lib/logger"
)

type ListingActivity struct {
	Listing        models.Listing `json:"listing"`
	LikeCount      int            `json:"like_count"`
	ChatCount      int            `json:"chat_count"`
	UnreadMessages int            `json:"unread_messages"`
}

type VerticalActivity struct {
	Marketplace    models.Marketplace `json:"marketplace"`
	Listings       []ListingActivity  `json:"listings"`
	LikeCount      int                `json:"like_count"`
	UnreadMessages int                `json:"unread_messages"`
}

// Dashboard сводка продавца по всем вертикалям. Счётчики на момент чтения.
type Dashboard struct {
	Verticals      []VerticalActivity `json:"verticals"`
	TotalListings  int                `json:"total_listings"`
	TotalLikes     int                `json:"total_likes"`
	UnreadMessages int                `json:"unread_messages"`
	// Stale выставлен, если хотя бы одну вертикаль не удалось обновить.
	Stale bool `json:"stale,omitempty"`
}

type DashboardService struct {
	log    *slog.Logger
	tables gateway.Tables
	cache  *cache.Cache
}

func NewDashboardService(log *slog.Logger, tables gateway.Tables, c *cache.Cache) *DashboardService {
	return &DashboardService{
		log:    log,
		tables: tables,
		cache:  c,
	}
}

// Overview читает объявления вызывающего по всем вертикалям вместе с лайками,
// затем чаты этих объявлений, и считает счётчики.
func (s *DashboardService) Overview(ctx context.Context) (*Dashboard, error) {
	const op = "service.DashboardService.Overview"

	log := s.log.With(slog.String("op", op))

	id, err := caller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d := &Dashboard{Verticals: make([]VerticalActivity, 0, len(models.Marketplaces))}
	for _, m := range models.Marketplaces {
		res := cache.Query(ctx, s.cache, sellerActivityKey(m, id.UserID), func(ctx context.Context) ([]ListingActivity, error) {
			return s.activity(ctx, m, id.UserID)
		}, cache.Options{})

		items, err := resolve(res)
		if err != nil {
			var stale *StaleError
			if !errors.As(err, &stale) {
				return nil, fmt.Errorf("%s: %s: %w", op, m, err)
			}
			log.Warn("serving stale activity", slog.String("marketplace", string(m)), logger.Err(err))
			d.Stale = true
		}

		v := VerticalActivity{Marketplace: m, Listings: items}
		if v.Listings == nil {
			v.Listings = []ListingActivity{}
		}
		for _, it := range items {
			v.LikeCount += it.LikeCount
			v.UnreadMessages += it.UnreadMessages
		}

		d.Verticals = append(d.Verticals, v)
		d.TotalListings += len(items)
		d.TotalLikes += v.LikeCount
		d.UnreadMessages += v.UnreadMessages
	}

	return d, nil
}

type activityRow struct {
	ID    string        `json:"id"`
	Likes []models.Like `json:"likes"`
}

func (s *DashboardService) activity(ctx context.Context, m models.Marketplace, sellerID string) ([]ListingActivity, error) {
	q := gateway.Query{
		Table:  m.ListingsTable(),
		Filter: gateway.Where().Eq("seller_id", sellerID),
		Relations: []gateway.Relation{{
			Table:      m.LikesTable(),
			Alias:      "likes",
			ForeignKey: "listing_id",
			Columns:    "id,user_id",
		}},
		Order: []gateway.Order{{Column: "created_at", Desc: true}},
	}

	var raw []json.RawMessage
	if err := s.tables.Select(ctx, q, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []ListingActivity{}, nil
	}

	listings := make([]models.Listing, 0, len(raw))
	rows := make([]activityRow, 0, len(raw))
	for _, r := range raw {
		listing, err := decodeListing(m, r)
		if err != nil {
			return nil, err
		}
		var row activityRow
		if err := json.Unmarshal(r, &row); err != nil {
			return nil, gateway.NewQueryError("decode listing activity", err)
		}
		listings = append(listings, listing)
		rows = append(rows, row)
	}

	chats, err := s.chats(ctx, m, rows)
	if err != nil {
		return nil, err
	}

	out := make([]ListingActivity, 0, len(rows))
	for i, row := range rows {
		likes, unread := CountActivity(sellerID, row.Likes, chats[row.ID])
		out = append(out, ListingActivity{
			Listing:        listings[i],
			LikeCount:      likes,
			ChatCount:      len(chats[row.ID]),
			UnreadMessages: unread,
		})
	}
	return out, nil
}

// chats читает чаты переданных объявлений, сгруппированные по id объявления.
// marketplace_chats ссылается на объявления любой вертикали, внешнего ключа
// для вложения нет, поэтому читаем отдельно.
func (s *DashboardService) chats(ctx context.Context, m models.Marketplace, rows []activityRow) (map[string][]models.Chat, error) {
	ids := make([]any, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	var chats []models.Chat
	err := s.tables.Select(ctx, gateway.Query{
		Table:   models.ChatsTable,
		Columns: "id,listing_id,buyer_id,seller_id",
		Filter:  gateway.Where().Eq("marketplace_type", string(m)).In("listing_id", ids...),
		Relations: []gateway.Relation{{
			Table:      models.MessagesTable,
			Alias:      "messages",
			ForeignKey: "chat_id",
			Columns:    "id,sender_id,read_at",
		}},
	}, &chats)
	if err != nil {
		return nil, err
	}

	byListing := make(map[string][]models.Chat, len(rows))
	for _, c := range chats {
		byListing[c.ListingID] = append(byListing[c.ListingID], c)
	}
	return byListing, nil
}

// CountActivity считает лайки объявления и непрочитанные продавцом
// сообщения: без read_at и отправленные не продавцом.
func CountActivity(sellerID string, likes []models.Like, chats []models.Chat) (likeCount, unread int) {
	for _, c := range chats {
		for _, msg := range c.Messages {
			if msg.Unread(sellerID) {
				unread++
			}
		}
	}
	return len(likes), unread
}
