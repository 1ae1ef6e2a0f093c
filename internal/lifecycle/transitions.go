// Package lifecycle holds the ad moderation and activation rules.
//
// The functions in this file are pure: they take an ad snapshot (and a policy
// and the current time where relevant) and return the mutated snapshot or a
// typed error. Persisting the result is the Manager's job.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/mapmarket/backend/internal/models"
)

const (
	// MaxRejectReasonLen is the longest stored reject reason, in characters.
	MaxRejectReasonLen = 500
	// DefaultRejectReason is stored when an admin rejects without a reason.
	DefaultRejectReason = "Rejected by admin"
)

// Operation names, also used as metric labels.
const (
	OpApprove    = "approve"
	OpReject     = "reject"
	OpRestate    = "restate"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
	OpExpire     = "expire"
)

func invalid(op string, from models.ModerationStatus) error {
	return fmt.Errorf("%w: cannot %s an ad in status %s", ErrInvalidTransition, op, from)
}

// Approve moves a PENDING or REJECTED ad to APPROVED and clears the reject
// reason. The active flag is untouched.
func Approve(ad models.Ad) (models.Ad, error) {
	switch ad.ModerationStatus {
	case models.StatusPending, models.StatusRejected:
	default:
		return ad, invalid(OpApprove, ad.ModerationStatus)
	}
	ad.ModerationStatus = models.StatusApproved
	ad.RejectReason = nil
	return ad, nil
}

// Reject marks the ad REJECTED from any status and takes it offline.
func Reject(ad models.Ad, reason string, now time.Time) models.Ad {
	r := NormalizeRejectReason(reason)
	ad.ModerationStatus = models.StatusRejected
	ad.RejectReason = &r
	ad.IsActive = false
	ad.DeactivatedAt = timePtr(now)
	return ad
}

// NormalizeRejectReason applies the default and the length cap.
func NormalizeRejectReason(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return DefaultRejectReason
	}
	runes := []rune(reason)
	if len(runes) > MaxRejectReasonLen {
		return string(runes[:MaxRejectReasonLen])
	}
	return reason
}

// Restate sends a REJECTED ad back to the moderation queue.
func Restate(ad models.Ad) (models.Ad, error) {
	if ad.ModerationStatus != models.StatusRejected {
		return ad, invalid(OpRestate, ad.ModerationStatus)
	}
	ad.ModerationStatus = models.StatusPending
	ad.RejectReason = nil
	return ad, nil
}

// Activate puts an APPROVED ad live for policy.AdActiveDays. activeCount is
// the number of the owner's other ads that are currently active.
func Activate(ad models.Ad, policy models.UserPolicy, activeCount int, now time.Time) (models.Ad, error) {
	if ad.ModerationStatus != models.StatusApproved {
		return ad, fmt.Errorf("%w: status is %s", ErrNotApproved, ad.ModerationStatus)
	}
	if activeCount >= policy.MaxActiveAds {
		return ad, fmt.Errorf("%w: %d of %d in use", ErrCapacityExceeded, activeCount, policy.MaxActiveAds)
	}
	ad.IsActive = true
	ad.ActivatedAt = timePtr(now)
	ad.ExpiresAt = timePtr(now.Add(policy.ActiveWindow()))
	ad.DeactivatedAt = nil
	return ad, nil
}

// Deactivate takes an active ad offline. The second result is false when the
// ad was already inactive, in which case the ad is returned unchanged.
func Deactivate(ad models.Ad, now time.Time) (models.Ad, bool) {
	if !ad.IsActive {
		return ad, false
	}
	ad.IsActive = false
	ad.DeactivatedAt = timePtr(now)
	return ad, true
}

// Expired reports whether an active ad's window closed strictly before now.
func Expired(ad models.Ad, now time.Time) bool {
	return ad.IsActive && ad.ExpiresAt != nil && ad.ExpiresAt.Before(now)
}

// ExpireSweep returns the deactivated form of every ad in ads whose window
// has closed. Ads that are inactive or still within their window are left
// out, so running it again over its own output yields nothing.
func ExpireSweep(ads []models.Ad, now time.Time) []models.Ad {
	var out []models.Ad
	for _, ad := range ads {
		if !Expired(ad, now) {
			continue
		}
		next, _ := Deactivate(ad, now)
		out = append(out, next)
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
