package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingPending   ListingStatus = "pending"
	ListingCancelled ListingStatus = "cancelled"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSold, ListingPending, ListingCancelled:
		return true
	}
	return false
}

type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
)

// ListingBase общие для всех вертикалей колонки.
type ListingBase struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Condition   Condition       `json:"condition"`
	Images      []string        `json:"images"`
	SellerID    string          `json:"seller_id"`
	Status      ListingStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Listing реализуют типы объявлений каждой вертикали.
type Listing interface {
	Base() *ListingBase
	Marketplace() Marketplace
}

// ListingRef адрес одного объявления в конкретной вертикали.
type ListingRef struct {
	Marketplace Marketplace
	ID          string
}

type TechListing struct {
	ListingBase
	Category string `json:"category"`
	Brand    string `json:"brand"`
}

func (l *TechListing) Base() *ListingBase       { return &l.ListingBase }
func (l *TechListing) Marketplace() Marketplace { return MarketplaceTech }

type AutoListing struct {
	ListingBase
	Make    string `json:"make"`
	Model   string `json:"model"`
	Year    int    `json:"year"`
	Mileage int    `json:"mileage"`
}

func (l *AutoListing) Base() *ListingBase       { return &l.ListingBase }
func (l *AutoListing) Marketplace() Marketplace { return MarketplaceAuto }

type BeautyListing struct {
	ListingBase
	ProductType string `json:"product_type"`
	Brand       string `json:"brand"`
}

func (l *BeautyListing) Base() *ListingBase       { return &l.ListingBase }
func (l *BeautyListing) Marketplace() Marketplace { return MarketplaceBeauty }

// Like отметка объявления в избранном у пользователя.
type Like struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
