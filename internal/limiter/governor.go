// Package limiter enforces the per-owner concurrent-campaign ceiling and a
// generic sliding-window rate check. Both are backed by a counter store
// shared across all engine instances, because short-lived invocations run
// concurrently on different hosts.
package limiter

import (
	"context"
	"time"
)

// RateResult is the outcome of a sliding-window check. A denial is a
// normal outcome the caller surfaces as rate-limited, not an error.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Governor interface {
	// TryAcquireCampaignSlot reserves one of the owner's concurrent
	// campaign slots, reporting false when the owner is at the ceiling.
	TryAcquireCampaignSlot(ctx context.Context, ownerID int) (bool, error)

	// ReleaseCampaignSlot returns a slot when a campaign reaches a
	// terminal state.
	ReleaseCampaignSlot(ctx context.Context, ownerID int) error

	// CheckRate records one event under key and reports whether it fits
	// within limit events per window.
	CheckRate(ctx context.Context, key string, limit int, window time.Duration) (RateResult, error)
}
