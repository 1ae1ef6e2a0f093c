package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/metrics"
	"github.com/mapmarket/backend/internal/models"
)

// DefaultSweepBatch is how many expired ads one sweep round loads at a time.
const DefaultSweepBatch = 200

// Actor is who is asking. Callers resolve it from the session before calling
// the Manager; the Manager never looks up authorization on its own.
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// Manager applies the transition rules against a Store.
type Manager struct {
	store    Store
	clock    Clock
	notifier Notifier
	logger   *zap.Logger
	batch    int
}

// NewManager creates a lifecycle manager. clock defaults to SystemClock.
func NewManager(store Store, clock Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, clock: clock, logger: logger, batch: DefaultSweepBatch}
}

// SetNotifier sets the receiver of listing visibility events.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetSweepBatch overrides the sweep page size.
func (m *Manager) SetSweepBatch(n int) {
	if n > 0 {
		m.batch = n
	}
}

// step computes the next snapshot inside the owner lock. changed=false skips the write.
type step func(ctx context.Context, tx Tx, cur models.Ad, now time.Time) (next models.Ad, changed bool, err error)

func requireAdmin(actor Actor, _ *models.Ad) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}

func requireOwnerOrAdmin(actor Actor, ad *models.Ad) error {
	if actor.IsAdmin || actor.UserID == ad.UserID {
		return nil
	}
	return ErrForbidden
}

func (m *Manager) run(ctx context.Context, op string, actor Actor, adID uuid.UUID, authorize func(Actor, *models.Ad) error, fn step) (*models.Ad, bool, error) {
	ad, err := m.store.FindAd(ctx, adID)
	if err != nil {
		m.observe(op, err, false)
		return nil, false, err
	}
	if err := authorize(actor, ad); err != nil {
		m.observe(op, err, false)
		return nil, false, err
	}

	var (
		out     models.Ad
		changed bool
	)
	err = m.store.WithOwnerLock(ctx, ad.UserID, func(tx Tx) error {
		cur, err := tx.FindAd(ctx, adID)
		if err != nil {
			return err
		}
		next, ok, err := fn(ctx, tx, *cur, m.clock.Now())
		if err != nil {
			return err
		}
		out, changed = next, ok
		if !ok {
			return nil
		}
		return tx.SaveLifecycle(ctx, *cur, next)
	})
	m.observe(op, err, !changed)
	if err != nil {
		return nil, false, err
	}
	m.logger.Info("ad lifecycle",
		zap.String("op", op),
		zap.String("ad_id", adID.String()),
		zap.String("actor_id", actor.UserID.String()),
		zap.Bool("admin", actor.IsAdmin),
		zap.String("status", string(out.ModerationStatus)),
		zap.Bool("active", out.IsActive),
		zap.Bool("changed", changed),
	)
	return &out, changed, nil
}

// Approve moves the ad to APPROVED. Admin only.
func (m *Manager) Approve(ctx context.Context, actor Actor, adID uuid.UUID) (*models.Ad, error) {
	ad, _, err := m.run(ctx, OpApprove, actor, adID, requireAdmin, func(_ context.Context, _ Tx, cur models.Ad, _ time.Time) (models.Ad, bool, error) {
		next, err := Approve(cur)
		return next, err == nil, err
	})
	return ad, err
}

// Reject marks the ad REJECTED with reason and takes it offline. Admin only.
func (m *Manager) Reject(ctx context.Context, actor Actor, adID uuid.UUID, reason string) (*models.Ad, error) {
	var wasActive bool
	ad, _, err := m.run(ctx, OpReject, actor, adID, requireAdmin, func(_ context.Context, _ Tx, cur models.Ad, now time.Time) (models.Ad, bool, error) {
		wasActive = cur.IsActive
		return Reject(cur, reason, now), true, nil
	})
	if err == nil && wasActive {
		m.notify(EventDeactivated, *ad)
	}
	return ad, err
}

// Restate returns a REJECTED ad to PENDING. Admin only.
func (m *Manager) Restate(ctx context.Context, actor Actor, adID uuid.UUID) (*models.Ad, error) {
	ad, _, err := m.run(ctx, OpRestate, actor, adID, requireAdmin, func(_ context.Context, _ Tx, cur models.Ad, _ time.Time) (models.Ad, bool, error) {
		next, err := Restate(cur)
		return next, err == nil, err
	})
	return ad, err
}

// Activate puts an approved ad live, enforcing the owner's capacity. Owner or admin.
func (m *Manager) Activate(ctx context.Context, actor Actor, adID uuid.UUID) (*models.Ad, error) {
	ad, _, err := m.run(ctx, OpActivate, actor, adID, requireOwnerOrAdmin, m.activateStep)
	if err == nil {
		m.notify(EventActivated, *ad)
	}
	return ad, err
}

func (m *Manager) activateStep(ctx context.Context, tx Tx, cur models.Ad, now time.Time) (models.Ad, bool, error) {
	if cur.ModerationStatus != models.StatusApproved {
		next, err := Activate(cur, models.UserPolicy{}, 0, now)
		return next, false, err
	}
	policy, err := tx.FindUserPolicy(ctx, cur.UserID)
	if err != nil {
		return cur, false, err
	}
	count, err := tx.CountActiveAds(ctx, cur.UserID, cur.ID)
	if err != nil {
		return cur, false, err
	}
	next, err := Activate(cur, policy, count, now)
	return next, err == nil, err
}

// ApproveAndActivate approves the ad and then activates it, as two separate
// transitions. If activation fails the ad stays approved and the activation
// error is returned alongside it.
func (m *Manager) ApproveAndActivate(ctx context.Context, actor Actor, adID uuid.UUID) (*models.Ad, error) {
	approved, err := m.Approve(ctx, actor, adID)
	if err != nil {
		return nil, err
	}
	active, err := m.Activate(ctx, actor, adID)
	if err != nil {
		return approved, err
	}
	return active, nil
}

// Deactivate takes the ad offline. Calling it on an inactive ad is a no-op. Owner or admin.
func (m *Manager) Deactivate(ctx context.Context, actor Actor, adID uuid.UUID) (*models.Ad, error) {
	ad, changed, err := m.run(ctx, OpDeactivate, actor, adID, requireOwnerOrAdmin, func(_ context.Context, _ Tx, cur models.Ad, now time.Time) (models.Ad, bool, error) {
		next, changed := Deactivate(cur, now)
		return next, changed, nil
	})
	if err == nil && changed {
		m.notify(EventDeactivated, *ad)
	}
	return ad, err
}

// ExpireSweep deactivates every ad whose window has closed and returns how
// many it changed. Rows another sweep or a user already changed are skipped,
// so concurrent and repeated sweeps are safe.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	now := m.clock.Now()
	total := 0
	for {
		candidates, err := m.store.ListExpired(ctx, now, m.batch)
		if err != nil {
			m.observe(OpExpire, err, false)
			return total, err
		}
		expired := ExpireSweep(candidates, now)
		changedThisRound := 0
		for _, ad := range expired {
			ok, err := m.store.ExpireAd(ctx, ad.ID, now)
			if err != nil {
				m.observe(OpExpire, err, false)
				return total, err
			}
			if !ok {
				continue
			}
			changedThisRound++
			m.notify(EventExpired, ad)
		}
		total += changedThisRound
		// A short page means we have seen everything; a page with no
		// successful writes means someone else is sweeping the same rows.
		if len(candidates) < m.batch || changedThisRound == 0 {
			break
		}
	}
	if total > 0 {
		metrics.AdsExpired.Add(float64(total))
		m.logger.Info("expired ads", zap.Int("count", total), zap.Time("now", now))
	}
	m.observe(OpExpire, nil, total == 0)
	return total, nil
}

func (m *Manager) notify(event string, ad models.Ad) {
	if m.notifier != nil {
		m.notifier.ListingChanged(event, ad)
	}
}

func (m *Manager) observe(op string, err error, noop bool) {
	metrics.LifecycleTransitions.WithLabelValues(op, resultLabel(err, noop)).Inc()
}

func resultLabel(err error, noop bool) string {
	switch {
	case err == nil && noop:
		return "noop"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotApproved):
		return "not_approved"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStale):
		return "stale"
	default:
		return "error"
	}
}
