package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mapmarket/backend/internal/models"
)

const imageColumns = `id, ad_id, position, s3_key, content_type, size_bytes, status, variants, created_at`

func scanImage(row rowScanner) (*models.AdImage, error) {
	var (
		img      models.AdImage
		variants []byte
	)
	if err := row.Scan(&img.ID, &img.AdID, &img.Position, &img.S3Key, &img.ContentType, &img.SizeBytes,
		&img.Status, &variants, &img.CreatedAt); err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &img.Variants); err != nil {
			return nil, fmt.Errorf("decode variants: %w", err)
		}
	}
	if len(img.Variants) > 0 {
		img.URL = img.Variants[len(img.Variants)-1].URL
	}
	return &img, nil
}

// ErrImageLimit is returned when an ad already holds the maximum number of images.
var ErrImageLimit = errors.New("image limit reached")

// CreateImage inserts a queued image at the next free position. The ad row is
// locked while counting so concurrent uploads cannot exceed limit.
func (r *Repository) CreateImage(ctx context.Context, img *models.AdImage, limit int) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var n int
		err := tx.QueryRow(ctx, `SELECT 1 FROM ads WHERE id = $1 FOR UPDATE`, img.AdID).Scan(&n)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock ad: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM ad_images WHERE ad_id = $1`, img.AdID).Scan(&n); err != nil {
			return fmt.Errorf("count images: %w", err)
		}
		if limit > 0 && n >= limit {
			return ErrImageLimit
		}
		const q = `INSERT INTO ad_images (id, ad_id, position, s3_key, content_type, size_bytes, status)
			VALUES ($1, $2, (SELECT COALESCE(MAX(position) + 1, 0) FROM ad_images WHERE ad_id = $2), $3, $4, $5, 'queued')
			RETURNING ` + imageColumns
		created, err := scanImage(tx.QueryRow(ctx, q, img.ID, img.AdID, img.S3Key, img.ContentType, img.SizeBytes))
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
		*img = *created
		return nil
	})
}

// CountImages returns how many images an ad has.
func (r *Repository) CountImages(ctx context.Context, adID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ad_images WHERE ad_id = $1`, adID).Scan(&n)
	return n, err
}

// ListImages returns an ad's images in display order.
func (r *Repository) ListImages(ctx context.Context, adID uuid.UUID) ([]models.AdImage, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+imageColumns+` FROM ad_images WHERE ad_id = $1 ORDER BY position`, adID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.AdImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *img)
	}
	return list, rows.Err()
}

// GetImage returns one image.
func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*models.AdImage, error) {
	img, err := scanImage(r.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM ad_images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

// MarkImageReady stores the generated variants.
func (r *Repository) MarkImageReady(ctx context.Context, id uuid.UUID, variants []models.ImageVariant) error {
	raw, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE ad_images SET status = 'ready', variants = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkImageFailed flags an image whose variants could not be built.
func (r *Repository) MarkImageFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE ad_images SET status = 'failed' WHERE id = $1`, id)
	return err
}

// DeleteImage removes one image row.
func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ad_images WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
