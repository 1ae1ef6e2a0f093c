package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapmarket/backend/internal/models"
)

// memStore is an in-memory Store with per-owner locks, used to exercise the
// Manager without Postgres.
type memStore struct {
	mu       sync.Mutex
	ads      map[uuid.UUID]models.Ad
	policies map[uuid.UUID]models.UserPolicy
	owners   sync.Map // uuid.UUID -> *sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		ads:      make(map[uuid.UUID]models.Ad),
		policies: make(map[uuid.UUID]models.UserPolicy),
	}
}

func (s *memStore) put(ad models.Ad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ads[ad.ID] = ad
}

func (s *memStore) get(id uuid.UUID) models.Ad {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ads[id]
}

func (s *memStore) setPolicy(userID uuid.UUID, p models.UserPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[userID] = p
}

func (s *memStore) activeCount(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ad := range s.ads {
		if ad.UserID == userID && ad.IsActive {
			n++
		}
	}
	return n
}

func (s *memStore) FindAd(_ context.Context, id uuid.UUID) (*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ad, nil
}

func (s *memStore) WithOwnerLock(_ context.Context, userID uuid.UUID, fn func(tx Tx) error) error {
	l, _ := s.owners.LoadOrStore(userID, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn(memTx{s: s})
}

func (s *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ad
	for _, ad := range s.ads {
		if Expired(ad, now) {
			out = append(out, ad)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ExpireAd(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok || !Expired(ad, now) {
		return false, nil
	}
	next, _ := Deactivate(ad, now)
	s.ads[id] = next
	return true, nil
}

type memTx struct{ s *memStore }

func (t memTx) FindAd(ctx context.Context, id uuid.UUID) (*models.Ad, error) {
	return t.s.FindAd(ctx, id)
}

func (t memTx) FindUserPolicy(_ context.Context, userID uuid.UUID) (models.UserPolicy, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.policies[userID]
	if !ok {
		return models.NewUserPolicy(0, 0), nil
	}
	return p, nil
}

func (t memTx) CountActiveAds(_ context.Context, userID, exclude uuid.UUID) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for id, ad := range t.s.ads {
		if id != exclude && ad.UserID == userID && ad.IsActive {
			n++
		}
	}
	return n, nil
}

func (t memTx) SaveLifecycle(_ context.Context, prev, next models.Ad) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.ads[prev.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.ModerationStatus != prev.ModerationStatus || cur.IsActive != prev.IsActive {
		return ErrStale
	}
	t.s.ads[prev.ID] = next
	return nil
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recordingNotifier keeps the events it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) ListingChanged(event string, _ models.Ad) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
