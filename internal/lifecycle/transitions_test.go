package lifecycle

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapmarket/backend/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAd(status models.ModerationStatus) models.Ad {
	return models.Ad{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ModerationStatus: status,
	}
}

func TestApprove(t *testing.T) {
	for _, from := range []models.ModerationStatus{models.StatusPending, models.StatusRejected} {
		ad := newAd(from)
		reason := "blurry photos"
		ad.RejectReason = &reason

		got, err := Approve(ad)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, models.StatusApproved, got.ModerationStatus)
		assert.Nil(t, got.RejectReason)
		assert.False(t, got.IsActive)
	}

	_, err := Approve(newAd(models.StatusApproved))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveKeepsActiveFlag(t *testing.T) {
	ad := newAd(models.StatusRejected)
	ad.IsActive = true // legacy row
	got, err := Approve(ad)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestReject(t *testing.T) {
	statuses := []models.ModerationStatus{models.StatusPending, models.StatusApproved, models.StatusRejected}
	for _, from := range statuses {
		ad := newAd(from)
		ad.IsActive = from == models.StatusApproved
		got := Reject(ad, "duplicate listing", t0)

		assert.Equal(t, models.StatusRejected, got.ModerationStatus)
		assert.False(t, got.IsActive)
		require.NotNil(t, got.RejectReason)
		assert.Equal(t, "duplicate listing", *got.RejectReason)
		require.NotNil(t, got.DeactivatedAt)
		assert.Equal(t, t0, *got.DeactivatedAt)
	}
}

func TestRejectReasonDefaultAndTruncation(t *testing.T) {
	got := Reject(newAd(models.StatusPending), "", t0)
	assert.Equal(t, DefaultRejectReason, *got.RejectReason)

	got = Reject(newAd(models.StatusPending), "   ", t0)
	assert.Equal(t, DefaultRejectReason, *got.RejectReason)

	long := strings.Repeat("ü", 700)
	got = Reject(newAd(models.StatusPending), long, t0)
	assert.Equal(t, MaxRejectReasonLen, utf8.RuneCountInString(*got.RejectReason))
	assert.True(t, strings.HasPrefix(long, *got.RejectReason))

	exact := strings.Repeat("x", MaxRejectReasonLen)
	got = Reject(newAd(models.StatusPending), exact, t0)
	assert.Equal(t, exact, *got.RejectReason)
}

func TestRejectReasonProperty(t *testing.T) {
	reasons := []string{"a", "spam", strings.Repeat("long ", 150), "контакт в описании", strings.Repeat("z", 501)}
	for _, r := range reasons {
		ad := newAd(models.StatusApproved)
		ad.IsActive = true
		got := Reject(ad, r, t0)

		assert.False(t, got.IsActive)
		assert.LessOrEqual(t, utf8.RuneCountInString(*got.RejectReason), MaxRejectReasonLen)
		assert.True(t, strings.HasPrefix(r, *got.RejectReason))
	}
}

func TestRestate(t *testing.T) {
	ad := newAd(models.StatusRejected)
	reason := "wrong category"
	ad.RejectReason = &reason

	got, err := Restate(ad)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.ModerationStatus)
	assert.Nil(t, got.RejectReason)

	for _, from := range []models.ModerationStatus{models.StatusPending, models.StatusApproved} {
		_, err := Restate(newAd(from))
		assert.ErrorIs(t, err, ErrInvalidTransition, "from %s", from)
	}
}

func TestActivate(t *testing.T) {
	policy := models.NewUserPolicy(1, 3)
	ad := newAd(models.StatusApproved)
	deactivated := t0.Add(-time.Hour)
	ad.DeactivatedAt = &deactivated

	got, err := Activate(ad, policy, 0, t0)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, t0, *got.ActivatedAt)
	assert.Equal(t, t0.Add(72*time.Hour), *got.ExpiresAt)
	assert.Nil(t, got.DeactivatedAt)
}

func TestActivateRequiresApproval(t *testing.T) {
	for _, from := range []models.ModerationStatus{models.StatusPending, models.StatusRejected} {
		_, err := Activate(newAd(from), models.NewUserPolicy(5, 3), 0, t0)
		assert.ErrorIs(t, err, ErrNotApproved)
	}
}

func TestActivateCapacity(t *testing.T) {
	policy := models.NewUserPolicy(2, 3)
	_, err := Activate(newAd(models.StatusApproved), policy, 1, t0)
	assert.NoError(t, err)

	_, err = Activate(newAd(models.StatusApproved), policy, 2, t0)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestDeactivateIdempotent(t *testing.T) {
	ad := newAd(models.StatusApproved)
	ad, err := Activate(ad, models.NewUserPolicy(1, 3), 0, t0)
	require.NoError(t, err)

	once, changed := Deactivate(ad, t0.Add(time.Hour))
	assert.True(t, changed)
	assert.False(t, once.IsActive)
	assert.Equal(t, t0.Add(time.Hour), *once.DeactivatedAt)

	twice, changed := Deactivate(once, t0.Add(2*time.Hour))
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestExpireSweepBoundary(t *testing.T) {
	policy := models.NewUserPolicy(1, 3)
	ad, err := Activate(newAd(models.StatusApproved), policy, 0, t0)
	require.NoError(t, err)
	window := policy.ActiveWindow()

	assert.Empty(t, ExpireSweep([]models.Ad{ad}, t0.Add(window-time.Second)))
	assert.Empty(t, ExpireSweep([]models.Ad{ad}, t0.Add(window)), "expiresAt < now is strict")

	now := t0.Add(window + time.Second)
	out := ExpireSweep([]models.Ad{ad}, now)
	require.Len(t, out, 1)
	assert.False(t, out[0].IsActive)
	assert.Equal(t, now, *out[0].DeactivatedAt)

	assert.Empty(t, ExpireSweep(out, now.Add(time.Hour)), "second sweep changes nothing")
}

func TestExpireSweepSkipsInactiveAndFresh(t *testing.T) {
	policy := models.NewUserPolicy(3, 1)
	old, _ := Activate(newAd(models.StatusApproved), policy, 0, t0)
	fresh, _ := Activate(newAd(models.StatusApproved), policy, 0, t0.Add(48*time.Hour))
	off, _ := Deactivate(old, t0.Add(time.Hour))

	out := ExpireSweep([]models.Ad{old, fresh, off}, t0.Add(49*time.Hour))
	require.Len(t, out, 1)
	assert.Equal(t, old.ID, out[0].ID)
}
