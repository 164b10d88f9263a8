package models

import "time"

type TargetKind string

const (
	TargetListing  TargetKind = "listing"
	TargetDesigner TargetKind = "designer"
	TargetWorkshop TargetKind = "workshop"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetListing, TargetDesigner, TargetWorkshop:
		return true
	}
	return false
}

// ReviewTarget то, о чём написан отзыв.
type ReviewTarget struct {
	Kind TargetKind
	ID   string
}

type Review struct {
	ID         string     `json:"id"`
	TargetKind TargetKind `json:"target_type"`
	TargetID   string     `json:"target_id"`
	AuthorID   string     `json:"user_id"`
	Rating     *int       `json:"rating"`
	Body       string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
}
