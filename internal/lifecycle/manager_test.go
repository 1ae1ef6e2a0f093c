package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapmarket/backend/internal/models"
)

func setup(t *testing.T) (*Manager, *memStore, *fakeClock) {
	t.Helper()
	store := newMemStore()
	clock := newFakeClock(t0)
	return NewManager(store, clock, nil), store, clock
}

func seedAd(store *memStore, owner uuid.UUID, status models.ModerationStatus) models.Ad {
	ad := models.Ad{ID: uuid.New(), UserID: owner, ModerationStatus: status}
	store.put(ad)
	return ad
}

func TestManagerModerationRequiresAdmin(t *testing.T) {
	m, store, _ := setup(t)
	owner := uuid.New()
	ad := seedAd(store, owner, models.StatusPending)
	ctx := context.Background()

	_, err := m.Approve(ctx, Actor{UserID: owner}, ad.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.Reject(ctx, Actor{UserID: owner}, ad.ID, "x")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.Restate(ctx, Actor{UserID: owner}, ad.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, models.StatusPending, store.get(ad.ID).ModerationStatus)
}

func TestManagerActivateOwnerOrAdmin(t *testing.T) {
	m, store, _ := setup(t)
	owner := uuid.New()
	store.setPolicy(owner, models.NewUserPolicy(5, 3))
	ad := seedAd(store, owner, models.StatusApproved)
	ctx := context.Background()

	_, err := m.Activate(ctx, Actor{UserID: uuid.New()}, ad.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	other := seedAd(store, owner, models.StatusApproved)
	_, err = m.Activate(ctx, Actor{UserID: uuid.New(), IsAdmin: true}, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.activeCount(owner))
}

func TestManagerNotFound(t *testing.T) {
	m, _, _ := setup(t)
	_, err := m.Activate(context.Background(), Actor{IsAdmin: true}, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerActivateNotApproved(t *testing.T) {
	m, store, _ := setup(t)
	owner := uuid.New()
	ad := seedAd(store, owner, models.StatusPending)

	_, err := m.Activate(context.Background(), Actor{UserID: owner}, ad.ID)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.False(t, store.get(ad.ID).IsActive)
}

func TestManagerReactivateDoesNotCountItself(t *testing.T) {
	m, store, clock := setup(t)
	owner := uuid.New()
	store.setPolicy(owner, models.NewUserPolicy(1, 3))
	ad := seedAd(store, owner, models.StatusApproved)
	ctx := context.Background()

	_, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)

	clock.Set(t0.Add(24 * time.Hour))
	got, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour+72*time.Hour), *got.ExpiresAt)
}

// N parallel activations over distinct ads of one owner must yield exactly
// maxActiveAds successes.
func TestManagerConcurrentActivationRespectsCapacity(t *testing.T) {
	for _, limit := range []int{1, 2, 5} {
		m, store, _ := setup(t)
		owner := uuid.New()
		store.setPolicy(owner, models.NewUserPolicy(limit, 3))

		const n = 32
		ids := make([]uuid.UUID, n)
		for i := range ids {
			ids[i] = seedAd(store, owner, models.StatusApproved).ID
		}

		var (
			ok, full int32
			wg       sync.WaitGroup
			start    = make(chan struct{})
		)
		for _, id := range ids {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				<-start
				_, err := m.Activate(context.Background(), Actor{UserID: owner}, id)
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case assert.ErrorIs(t, err, ErrCapacityExceeded):
					atomic.AddInt32(&full, 1)
				}
			}(id)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(limit), ok, "limit %d", limit)
		assert.Equal(t, int32(n-limit), full, "limit %d", limit)
		assert.Equal(t, limit, store.activeCount(owner))
	}
}

func TestManagerCapacityScenario(t *testing.T) {
	m, store, clock := setup(t)
	owner := uuid.New()
	store.setPolicy(owner, models.NewUserPolicy(1, 3))
	admin := Actor{UserID: uuid.New(), IsAdmin: true}
	self := Actor{UserID: owner}
	ctx := context.Background()

	a := seedAd(store, owner, models.StatusApproved)
	_, err := m.Activate(ctx, self, a.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(72*time.Hour), *store.get(a.ID).ExpiresAt)

	b := seedAd(store, owner, models.StatusPending)
	_, err = m.Approve(ctx, admin, b.ID)
	require.NoError(t, err)

	clock.Set(t0.Add(time.Hour))
	_, err = m.Activate(ctx, self, b.ID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = m.Deactivate(ctx, self, a.ID)
	require.NoError(t, err)

	got, err := m.Activate(ctx, self, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, t0.Add(time.Hour+72*time.Hour), *got.ExpiresAt)
	assert.False(t, store.get(a.ID).IsActive)
}

func TestManagerDeactivateTwice(t *testing.T) {
	m, store, clock := setup(t)
	owner := uuid.New()
	ad := seedAd(store, owner, models.StatusApproved)
	ctx := context.Background()
	_, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)

	clock.Set(t0.Add(time.Hour))
	_, err = m.Deactivate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)
	once := store.get(ad.ID)

	clock.Set(t0.Add(2 * time.Hour))
	_, err = m.Deactivate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, once, store.get(ad.ID))
}

func TestManagerRejectTakesOffline(t *testing.T) {
	m, store, _ := setup(t)
	owner := uuid.New()
	n := &recordingNotifier{}
	m.SetNotifier(n)
	ad := seedAd(store, owner, models.StatusApproved)
	ctx := context.Background()
	_, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
	require.NoError(t, err)

	got, err := m.Reject(ctx, Actor{IsAdmin: true}, ad.ID, "prohibited item")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "prohibited item", *store.get(ad.ID).RejectReason)
	assert.Equal(t, []string{EventActivated, EventDeactivated}, n.Events())

	_, err = m.Restate(ctx, Actor{IsAdmin: true}, ad.ID)
	require.NoError(t, err)
	stored := store.get(ad.ID)
	assert.Equal(t, models.StatusPending, stored.ModerationStatus)
	assert.Nil(t, stored.RejectReason)
}

func TestManagerApproveAndActivate(t *testing.T) {
	m, store, _ := setup(t)
	owner := uuid.New()
	admin := Actor{UserID: uuid.New(), IsAdmin: true}
	ctx := context.Background()

	first := seedAd(store, owner, models.StatusPending)
	got, err := m.ApproveAndActivate(ctx, admin, first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	second := seedAd(store, owner, models.StatusPending)
	got, err = m.ApproveAndActivate(ctx, admin, second.ID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusApproved, got.ModerationStatus)
	assert.Equal(t, models.StatusApproved, store.get(second.ID).ModerationStatus)
	assert.False(t, store.get(second.ID).IsActive)
}

func TestManagerExpireSweep(t *testing.T) {
	m, store, clock := setup(t)
	m.SetSweepBatch(2)
	n := &recordingNotifier{}
	m.SetNotifier(n)
	owner := uuid.New()
	store.setPolicy(owner, models.NewUserPolicy(10, 3))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ad := seedAd(store, owner, models.StatusApproved)
		_, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
		require.NoError(t, err)
		ids = append(ids, ad.ID)
	}

	clock.Set(t0.Add(72*time.Hour - time.Second))
	count, err := m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Set(t0.Add(72*time.Hour + time.Second))
	count, err = m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	for _, id := range ids {
		assert.False(t, store.get(id).IsActive)
		assert.Equal(t, t0.Add(72*time.Hour+time.Second), *store.get(id).DeactivatedAt)
	}

	count, err = m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	expired := 0
	for _, e := range n.Events() {
		if e == EventExpired {
			expired++
		}
	}
	assert.Equal(t, 5, expired)
}

func TestManagerConcurrentSweeps(t *testing.T) {
	m, store, clock := setup(t)
	owner := uuid.New()
	store.setPolicy(owner, models.NewUserPolicy(50, 1))
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		ad := seedAd(store, owner, models.StatusApproved)
		_, err := m.Activate(ctx, Actor{UserID: owner}, ad.ID)
		require.NoError(t, err)
	}
	clock.Set(t0.Add(25 * time.Hour))

	var (
		total int64
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.ExpireSweep(ctx)
			assert.NoError(t, err)
			atomic.AddInt64(&total, int64(n))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(40), total, "each ad transitions exactly once")
	assert.Zero(t, store.activeCount(owner))
}
