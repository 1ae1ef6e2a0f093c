package models

import (
	"time"

	"github.com/google/uuid"
)

// AdView is one recorded page view of an ad detail panel.
type AdView struct {
	ID        uuid.UUID  `json:"id"`
	AdID      uuid.UUID  `json:"ad_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	IPHash    string     `json:"-"`
	UserAgent string     `json:"-"`
	ViewedAt  time.Time  `json:"viewed_at"`
}
