package models

import (
	"fmt"
	"strings"
)

// Marketplace одна из трёх вертикалей. У каждой вертикали свой набор таблиц.
type Marketplace string

const (
	MarketplaceTech   Marketplace = "tech"
	MarketplaceAuto   Marketplace = "auto"
	MarketplaceBeauty Marketplace = "beauty"
)

// Marketplaces все вертикали в порядке показа.
var Marketplaces = []Marketplace{MarketplaceTech, MarketplaceAuto, MarketplaceBeauty}

// общие таблицы
const (
	ChatsTable    = "marketplace_chats"
	MessagesTable = "marketplace_messages"
	CommentsTable = "comments"
	PostsTable    = "posts"
)

func ParseMarketplace(s string) (Marketplace, error) {
	m := Marketplace(strings.ToLower(s))
	if !m.Valid() {
		return "", fmt.Errorf("unknown marketplace %q", s)
	}
	return m, nil
}

func (m Marketplace) Valid() bool {
	switch m {
	case MarketplaceTech, MarketplaceAuto, MarketplaceBeauty:
		return true
	}
	return false
}

func (m Marketplace) table(suffix string) string {
	return string(m) + "_marketplace_" + suffix
}

func (m Marketplace) ListingsTable() string   { return m.table("listings") }
func (m Marketplace) CartTable() string       { return m.table("cart_items") }
func (m Marketplace) OrdersTable() string     { return m.table("orders") }
func (m Marketplace) OrderItemsTable() string { return m.table("order_items") }
func (m Marketplace) LikesTable() string      { return m.table("likes") }

// MarketplaceForListingsTable возвращает вертикаль по имени таблицы объявлений.
func MarketplaceForListingsTable(table string) (Marketplace, bool) {
	for _, m := range Marketplaces {
		if m.ListingsTable() == table {
			return m, true
		}
	}
	return "", false
}

// CategoryColumn колонка, по которой фильтруется вертикаль.
func (m Marketplace) CategoryColumn() string {
	switch m {
	case MarketplaceAuto:
		return "make"
	case MarketplaceBeauty:
		return "product_type"
	default:
		return "category"
	}
}
