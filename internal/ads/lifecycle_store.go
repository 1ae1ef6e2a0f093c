package ads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/models"
)

// LifecycleStore is the Postgres implementation of lifecycle.Store.
type LifecycleStore struct {
	pool  *pgxpool.Pool
	codec *ShareCodec
}

// NewLifecycleStore creates a lifecycle store over pool.
func NewLifecycleStore(pool *pgxpool.Pool, codec *ShareCodec) *LifecycleStore {
	return &LifecycleStore{pool: pool, codec: codec}
}

var _ lifecycle.Store = (*LifecycleStore)(nil)

// FindAd reads an ad without locking.
func (s *LifecycleStore) FindAd(ctx context.Context, id uuid.UUID) (*models.Ad, error) {
	return findAd(ctx, s.pool, s.codec, id, false)
}

// WithOwnerLock runs fn in a transaction holding the owner's users row lock.
func (s *LifecycleStore) WithOwnerLock(ctx context.Context, userID uuid.UUID, fn func(tx lifecycle.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return lifecycle.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		return fn(&pgTx{tx: tx, codec: s.codec})
	})
}

// ListExpired returns up to limit active ads past their expiry, oldest expiry first.
func (s *LifecycleStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Ad, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+adColumns+` FROM ads
		WHERE is_active AND expires_at < $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return collectAds(rows, s.codec)
}

// ExpireAd deactivates id only if it is still active and expired.
func (s *LifecycleStore) ExpireAd(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE ads SET is_active = FALSE, deactivated_at = $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND expires_at < $2`, id, now)
	if err != nil {
		return false, fmt.Errorf("expire ad: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findAd(ctx context.Context, q querier, codec *ShareCodec, id uuid.UUID, forUpdate bool) (*models.Ad, error) {
	sql := `SELECT ` + adColumns + ` FROM ads WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAd(q.QueryRow(ctx, sql, id), codec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ad: %w", err)
	}
	return a, nil
}

type pgTx struct {
	tx    pgx.Tx
	codec *ShareCodec
}

func (t *pgTx) FindAd(ctx context.Context, id uuid.UUID) (*models.Ad, error) {
	return findAd(ctx, t.tx, t.codec, id, true)
}

func (t *pgTx) FindUserPolicy(ctx context.Context, userID uuid.UUID) (models.UserPolicy, error) {
	var maxActive, days int
	err := t.tx.QueryRow(ctx, `SELECT max_active_ads, ad_active_days FROM users WHERE id = $1`, userID).Scan(&maxActive, &days)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserPolicy{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.UserPolicy{}, fmt.Errorf("find policy: %w", err)
	}
	return models.NewUserPolicy(maxActive, days), nil
}

func (t *pgTx) CountActiveAds(ctx context.Context, userID, exclude uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ads WHERE user_id = $1 AND is_active AND id <> $2`, userID, exclude).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active ads: %w", err)
	}
	return n, nil
}

func (t *pgTx) SaveLifecycle(ctx context.Context, prev, next models.Ad) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ads SET moderation_status = $2, is_active = $3, activated_at = $4,
		expires_at = $5, deactivated_at = $6, reject_reason = $7, updated_at = NOW()
		WHERE id = $1 AND moderation_status = $8 AND is_active = $9`,
		next.ID, next.ModerationStatus, next.IsActive, next.ActivatedAt, next.ExpiresAt, next.DeactivatedAt,
		next.RejectReason, prev.ModerationStatus, prev.IsActive)
	if err != nil {
		return fmt.Errorf("save lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrStale
	}
	return nil
}
