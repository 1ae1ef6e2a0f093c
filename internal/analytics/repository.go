package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapmarket/backend/internal/models"
)

// ViewSummary aggregates the view events of one ad.
type ViewSummary struct {
	AdID           uuid.UUID  `json:"ad_id"`
	TotalViews     int64      `json:"total_views"`
	UniqueVisitors int64      `json:"unique_visitors"`
	Last7Days      int64      `json:"last_7_days"`
	LastViewedAt   *time.Time `json:"last_viewed_at,omitempty"`
}

// Repository handles ad_views.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an ad views repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one view event.
func (r *Repository) Record(ctx context.Context, v *models.AdView) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO ad_views (ad_id, user_id, ip_hash, user_agent) VALUES ($1, $2, $3, $4)
		 RETURNING id, viewed_at`,
		v.AdID, v.UserID, v.IPHash, v.UserAgent,
	).Scan(&v.ID, &v.ViewedAt)
}

// Summary returns view counts for an ad. Visitors are told apart by user id,
// falling back to the hashed IP for anonymous views.
func (r *Repository) Summary(ctx context.Context, adID uuid.UUID, now time.Time) (*ViewSummary, error) {
	const q = `SELECT COUNT(*),
		COUNT(DISTINCT COALESCE(user_id::text, NULLIF(ip_hash, ''))),
		COUNT(*) FILTER (WHERE viewed_at > $2),
		MAX(viewed_at)
		FROM ad_views WHERE ad_id = $1`
	s := ViewSummary{AdID: adID}
	if err := r.pool.QueryRow(ctx, q, adID, now.Add(-7*24*time.Hour)).
		Scan(&s.TotalViews, &s.UniqueVisitors, &s.Last7Days, &s.LastViewedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
