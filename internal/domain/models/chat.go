package models

import "time"

// Chat переписка покупателя и продавца по одному объявлению.
type Chat struct {
	ID              string      `json:"id"`
	ListingID       string      `json:"listing_id"`
	MarketplaceType Marketplace `json:"marketplace_type"`
	BuyerID         string      `json:"buyer_id"`
	SellerID        string      `json:"seller_id"`
	Messages        []Message   `json:"messages,omitempty"`
}

type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Unread сообщает, не прочитано ли сообщение получателем.
func (m Message) Unread(recipient string) bool {
	return m.ReadAt == nil && m.SenderID != recipient
}
