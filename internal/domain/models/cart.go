package models

// CartItem строка корзины. Listing заполнен, если строка читается вместе с объявлением.
type CartItem struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	ListingID string       `json:"listing_id"`
	Quantity  int          `json:"quantity"`
	Listing   *ListingBase `json:"listing,omitempty"`
}
