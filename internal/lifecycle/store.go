package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mapmarket/backend/internal/models"
)

// Store is the persistence the Manager needs.
type Store interface {
	// FindAd returns the ad or ErrNotFound.
	FindAd(ctx context.Context, id uuid.UUID) (*models.Ad, error)
	// WithOwnerLock runs fn in a transaction that holds userID's lock, so
	// lifecycle writes for one owner's ads never interleave.
	WithOwnerLock(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error
	// ListExpired returns up to limit active ads whose expires_at is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Ad, error)
	// ExpireAd deactivates the ad only if it is still active and expired at
	// now. It reports whether a row was changed.
	ExpireAd(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// Tx is the view of the store inside WithOwnerLock.
type Tx interface {
	FindAd(ctx context.Context, id uuid.UUID) (*models.Ad, error)
	FindUserPolicy(ctx context.Context, userID uuid.UUID) (models.UserPolicy, error)
	// CountActiveAds counts userID's active ads other than exclude.
	CountActiveAds(ctx context.Context, userID, exclude uuid.UUID) (int, error)
	// SaveLifecycle writes next's lifecycle columns if the stored row still
	// has prev's moderation status and active flag; otherwise ErrStale.
	SaveLifecycle(ctx context.Context, prev, next models.Ad) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Notifier is told about visibility changes, e.g. to push map updates.
type Notifier interface {
	ListingChanged(event string, ad models.Ad)
}

// Listing events emitted to the Notifier.
const (
	EventActivated   = "listing_activated"
	EventDeactivated = "listing_deactivated"
	EventExpired     = "listing_expired"
)
