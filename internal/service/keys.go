package service

import (
	"strconv"

	"github.com/linemk/naijahub/internal/cache"
	"github.com/linemk/naijahub/internal/domain/models"
)

// ListingsKey префикс всего кэша объявлений одной вертикали: списки,
// отдельные объявления и активность продавцов.
func ListingsKey(m models.Marketplace) cache.Key {
	return cache.NewKey("listings", string(m))
}

func listingKey(ref models.ListingRef) cache.Key {
	return ListingsKey(ref.Marketplace).With("id", ref.ID)
}

func sellerActivityKey(m models.Marketplace, sellerID string) cache.Key {
	return ListingsKey(m).With("seller", sellerID, "activity")
}

func CartKey(m models.Marketplace, buyerID string) cache.Key {
	return cache.NewKey("cart", string(m), buyerID)
}

func OrdersKey(m models.Marketplace, buyerID string) cache.Key {
	return cache.NewKey("orders", string(m), buyerID)
}

func ReviewsKey(target models.ReviewTarget) cache.Key {
	return cache.NewKey("reviews", string(target.Kind), target.ID)
}

var (
	mapTokenKey = cache.NewKey("procedures", "mapbox-token")
	postsKey    = cache.NewKey("posts")
)

func (f ListingFilter) keyParts() []string {
	parts := []string{
		"q=" + f.Search,
		"category=" + f.Category,
		"status=" + string(f.status()),
		"seller=" + f.SellerID,
		"limit=" + strconv.Itoa(f.limit()),
		"offset=" + strconv.Itoa(f.Offset),
	}
	if f.MinPrice != nil {
		parts = append(parts, "min="+f.MinPrice.String())
	}
	if f.MaxPrice != nil {
		parts = append(parts, "max="+f.MaxPrice.String())
	}
	return parts
}
