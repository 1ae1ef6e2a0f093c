package lifecycle

import "errors"

var (
	// ErrNotApproved is returned when activating an ad that is not APPROVED.
	ErrNotApproved = errors.New("ad is not approved")
	// ErrCapacityExceeded is returned when the owner already has maxActiveAds live ads.
	ErrCapacityExceeded = errors.New("active ad limit reached")
	// ErrInvalidTransition is returned when an operation's precondition does not hold.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden is returned when the actor lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the ad does not exist.
	ErrNotFound = errors.New("ad not found")
	// ErrStale is returned when the ad changed between read and write.
	ErrStale = errors.New("ad was modified concurrently")
)
