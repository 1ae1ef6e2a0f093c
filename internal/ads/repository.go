package ads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapmarket/backend/internal/models"
)

// ErrNotFound is returned when the ad or image does not exist.
var ErrNotFound = errors.New("not found")

const adColumns = `id, seq, user_id, title, description, category, price_cents, currency,
	lat, lng, COALESCE(address, ''), attributes, moderation_status, is_active,
	activated_at, expires_at, deactivated_at, reject_reason, created_at, updated_at`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner, codec *ShareCodec) (*models.Ad, error) {
	var a models.Ad
	err := row.Scan(&a.ID, &a.Seq, &a.UserID, &a.Title, &a.Description, &a.Category, &a.PriceCents, &a.Currency,
		&a.Lat, &a.Lng, &a.Address, &a.Attributes, &a.ModerationStatus, &a.IsActive,
		&a.ActivatedAt, &a.ExpiresAt, &a.DeactivatedAt, &a.RejectReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if codec != nil && a.Seq > 0 {
		a.ShareCode, _ = codec.Encode(a.Seq)
	}
	return &a, nil
}

func collectAds(rows pgx.Rows, codec *ShareCodec) ([]models.Ad, error) {
	defer rows.Close()
	list := []models.Ad{}
	for rows.Next() {
		a, err := scanAd(rows, codec)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// Repository handles ad persistence.
type Repository struct {
	pool  *pgxpool.Pool
	codec *ShareCodec
}

// NewRepository creates an ads repository.
func NewRepository(pool *pgxpool.Pool, codec *ShareCodec) *Repository {
	return &Repository{pool: pool, codec: codec}
}

// Create inserts a new ad. It always starts PENDING and inactive.
func (r *Repository) Create(ctx context.Context, a *models.Ad) error {
	const q = `INSERT INTO ads (user_id, title, description, category, price_cents, currency, lat, lng, address, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		RETURNING ` + adColumns
	created, err := scanAd(r.pool.QueryRow(ctx, q, a.UserID, a.Title, a.Description, a.Category, a.PriceCents,
		a.Currency, a.Lat, a.Lng, a.Address, attributesOrEmpty(a.Attributes)), r.codec)
	if err != nil {
		return fmt.Errorf("insert ad: %w", err)
	}
	*a = *created
	return nil
}

// GetByID returns an ad by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ad, error) {
	a, err := scanAd(r.pool.QueryRow(ctx, `SELECT `+adColumns+` FROM ads WHERE id = $1`, id), r.codec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetBySeq returns an ad by its sequence number (decoded share code).
func (r *Repository) GetBySeq(ctx context.Context, seq int64) (*models.Ad, error) {
	a, err := scanAd(r.pool.QueryRow(ctx, `SELECT `+adColumns+` FROM ads WHERE seq = $1`, seq), r.codec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListByOwner returns all of a user's ads, newest first.
func (r *Repository) ListByOwner(ctx context.Context, userID uuid.UUID) ([]models.Ad, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+adColumns+` FROM ads WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectAds(rows, r.codec)
}

// ListByStatus returns the moderation queue for status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status models.ModerationStatus, limit, offset int) ([]models.Ad, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+adColumns+` FROM ads WHERE moderation_status = $1
		ORDER BY created_at ASC, seq ASC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAds(rows, r.codec)
}

// MapQuery selects public ads inside a bounding box.
type MapQuery struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	Category       models.Category // empty = all
	Limit          int
	Now            time.Time
}

// Browse returns public map markers inside the box, newest activation first.
func (r *Repository) Browse(ctx context.Context, q MapQuery) ([]models.MapMarker, error) {
	const query = `SELECT a.id, a.seq, a.title, a.category, a.price_cents, a.currency, a.lat, a.lng, a.expires_at,
		COALESCE((SELECT i.variants->0->>'url' FROM ad_images i
			WHERE i.ad_id = a.id AND i.status = 'ready' ORDER BY i.position LIMIT 1), '')
		FROM ads a
		WHERE a.moderation_status = 'APPROVED' AND a.is_active AND a.expires_at > $1
		  AND a.lat BETWEEN $2 AND $3 AND a.lng BETWEEN $4 AND $5
		  AND ($6 = '' OR a.category = $6)
		ORDER BY a.activated_at DESC
		LIMIT $7`
	rows, err := r.pool.Query(ctx, query, q.Now, q.MinLat, q.MaxLat, q.MinLng, q.MaxLng, string(q.Category), q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.MapMarker{}
	for rows.Next() {
		var m models.MapMarker
		var seq int64
		if err := rows.Scan(&m.ID, &seq, &m.Title, &m.Category, &m.PriceCents, &m.Currency, &m.Lat, &m.Lng, &m.ExpiresAt, &m.ThumbURL); err != nil {
			return nil, err
		}
		if r.codec != nil {
			m.ShareCode, _ = r.codec.Encode(seq)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// UpdateContent rewrites the listing fields of a. An edit sends the ad back to
// moderation: it becomes PENDING and inactive. wasActive reports whether it was
// live before the edit.
func (r *Repository) UpdateContent(ctx context.Context, a *models.Ad, now time.Time) (wasActive bool, err error) {
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT is_active FROM ads WHERE id = $1 FOR UPDATE`, a.ID).Scan(&wasActive); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		const q = `UPDATE ads SET title = $2, description = $3, category = $4, price_cents = $5, currency = $6,
			lat = $7, lng = $8, address = NULLIF($9, ''), attributes = $10,
			moderation_status = 'PENDING', reject_reason = NULL, is_active = FALSE,
			deactivated_at = CASE WHEN is_active THEN $11 ELSE deactivated_at END,
			updated_at = NOW()
			WHERE id = $1
			RETURNING ` + adColumns
		updated, err := scanAd(tx.QueryRow(ctx, q, a.ID, a.Title, a.Description, a.Category, a.PriceCents, a.Currency,
			a.Lat, a.Lng, a.Address, attributesOrEmpty(a.Attributes), now), r.codec)
		if err != nil {
			return err
		}
		*a = *updated
		return nil
	})
	return wasActive, err
}

// Delete removes the ad and, by cascade, its images and views.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func attributesOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}
