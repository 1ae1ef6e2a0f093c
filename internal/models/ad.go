package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ModerationStatus is the admin-controlled classification of an ad.
type ModerationStatus string

const (
	StatusPending  ModerationStatus = "PENDING"
	StatusApproved ModerationStatus = "APPROVED"
	StatusRejected ModerationStatus = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s ModerationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Category is the listing vertical; it decides which attributes an ad carries.
type Category string

const (
	CategoryRental   Category = "rental"
	CategorySale     Category = "sale"
	CategoryClothing Category = "clothing"
)

// Valid reports whether c is a supported category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRental, CategorySale, CategoryClothing:
		return true
	}
	return false
}

// Ad is a user-submitted listing.
type Ad struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"-"`
	ShareCode   string          `json:"share_code,omitempty"`
	UserID      uuid.UUID       `json:"user_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	PriceCents  int64           `json:"price_cents"`
	Currency    string          `json:"currency"`
	Lat         float64         `json:"lat"`
	Lng         float64         `json:"lng"`
	Address     string          `json:"address,omitempty"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`

	ModerationStatus ModerationStatus `json:"moderation_status"`
	IsActive         bool             `json:"is_active"`
	ActivatedAt      *time.Time       `json:"activated_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	DeactivatedAt    *time.Time       `json:"deactivated_at,omitempty"`
	RejectReason     *string          `json:"reject_reason,omitempty"`

	Images    []AdImage `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPublic reports whether the ad is visible to anonymous map visitors at now.
func (a *Ad) IsPublic(now time.Time) bool {
	return a.ModerationStatus == StatusApproved && a.IsActive && a.ExpiresAt != nil && a.ExpiresAt.After(now)
}

// MapMarker is the trimmed projection of an ad used by the map browse endpoint.
type MapMarker struct {
	ID         uuid.UUID  `json:"id"`
	ShareCode  string     `json:"share_code,omitempty"`
	Title      string     `json:"title"`
	Category   Category   `json:"category"`
	PriceCents int64      `json:"price_cents"`
	Currency   string     `json:"currency"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	ThumbURL   string     `json:"thumb_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}
