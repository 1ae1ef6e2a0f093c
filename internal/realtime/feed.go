package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/mapmarket/backend/internal/models"
)

// ListingEvent is the payload pushed to map viewers.
type ListingEvent struct {
	ID         uuid.UUID       `json:"id"`
	ShareCode  string          `json:"share_code,omitempty"`
	Title      string          `json:"title"`
	Category   models.Category `json:"category"`
	PriceCents int64           `json:"price_cents"`
	Currency   string          `json:"currency"`
	Lat        float64         `json:"lat"`
	Lng        float64         `json:"lng"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

// Feed publishes listing visibility changes to the "all" channel and the ad's
// category channel. It satisfies lifecycle.Notifier.
type Feed struct {
	hub *Hub
}

// NewFeed creates a feed on top of hub.
func NewFeed(hub *Hub) *Feed {
	return &Feed{hub: hub}
}

// ListingChanged publishes event for ad.
func (f *Feed) ListingChanged(event string, ad models.Ad) {
	payload := ListingEvent{
		ID:         ad.ID,
		ShareCode:  ad.ShareCode,
		Title:      ad.Title,
		Category:   ad.Category,
		PriceCents: ad.PriceCents,
		Currency:   ad.Currency,
		Lat:        ad.Lat,
		Lng:        ad.Lng,
		ExpiresAt:  ad.ExpiresAt,
	}
	f.hub.Publish(ChannelAll, event, payload)
	if ad.Category.Valid() {
		f.hub.Publish(string(ad.Category), event, payload)
	}
}
