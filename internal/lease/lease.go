// Package lease provides the short-lived per-campaign mutual-exclusion
// token that serializes batch runs. A campaign's "running" status alone is
// not enough: overlapping triggers (a cron tick firing while a manual
// resume is mid-flight) must lose the lease race and back off. The TTL is
// the crash recovery path; a run killed without releasing simply lets its
// lease expire.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHeld means another run currently owns the campaign's lease.
var ErrHeld = errors.New("lease already held")

// Store hands out leases. Acquire returns ErrHeld when the lease is taken.
type Store interface {
	Acquire(ctx context.Context, campaignID int, ttl time.Duration) (*Lease, error)
}

// Lease is one acquired processing lease. Release is owner-checked: a run
// whose lease already expired and was re-acquired by someone else must not
// be able to delete the new holder's lease.
type Lease struct {
	key     string
	token   string
	release func(ctx context.Context, key, token string) error
}

func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx, l.key, l.token)
}

func leaseKey(campaignID int) string {
	return fmt.Sprintf("campaign:lease:%d", campaignID)
}
