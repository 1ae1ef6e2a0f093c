package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the marketplace.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Policy defaults applied when a user row carries no usable value.
const (
	DefaultMaxActiveAds = 1
	DefaultAdActiveDays = 3
)

// User represents a marketplace account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Password     string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	MaxActiveAds int       `json:"max_active_ads"`
	AdActiveDays int       `json:"ad_active_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user may moderate.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Policy derives the lifecycle policy from the user record.
func (u *User) Policy() UserPolicy {
	return NewUserPolicy(u.MaxActiveAds, u.AdActiveDays)
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	MaxActiveAds int       `json:"max_active_ads"`
	AdActiveDays int       `json:"ad_active_days"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	p := u.Policy()
	return UserPublic{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		MaxActiveAds: p.MaxActiveAds,
		AdActiveDays: p.AdActiveDays,
		CreatedAt:    u.CreatedAt,
	}
}

// UserPolicy is the per-user activation policy.
type UserPolicy struct {
	MaxActiveAds int `json:"max_active_ads"`
	AdActiveDays int `json:"ad_active_days"`
}

// NewUserPolicy builds a policy, replacing non-positive values with defaults.
func NewUserPolicy(maxActiveAds, adActiveDays int) UserPolicy {
	if maxActiveAds <= 0 {
		maxActiveAds = DefaultMaxActiveAds
	}
	if adActiveDays <= 0 {
		adActiveDays = DefaultAdActiveDays
	}
	return UserPolicy{MaxActiveAds: maxActiveAds, AdActiveDays: adActiveDays}
}

// ActiveWindow is the length of one activation.
func (p UserPolicy) ActiveWindow() time.Duration {
	return time.Duration(p.AdActiveDays) * 24 * time.Hour
}
