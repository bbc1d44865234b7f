// Package engine owns the campaign lifecycle state machine and the
// resumable batch processor. All state that determines "what is left to
// do" lives in the durable store; the engine keeps nothing in memory
// between invocations, so the hosting process can be killed and restarted
// between any two recipients without losing progress.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alihussnain1122/mail-back/internal/lease"
	"github.com/alihussnain1122/mail-back/internal/limiter"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/repository"
	"github.com/alihussnain1122/mail-back/internal/secrets"
	"github.com/alihussnain1122/mail-back/internal/token"
)

// Config bounds one batch invocation and the governor's ceilings.
type Config struct {
	// BatchSize caps how many pending recipients one Advance call loads.
	BatchSize int
	// Budget is the wall-clock limit for one Advance call; checked before
	// every send.
	Budget time.Duration
	// LeaseTTL bounds how long a crashed run can block the next one.
	LeaseTTL time.Duration
	// StatusCheckEvery is K: re-read campaign status every K recipients.
	StatusCheckEvery int
	// SendRateLimit / SendRateWindow is the per-owner distributed send
	// ceiling.
	SendRateLimit  int
	SendRateWindow time.Duration
	// TrackingBaseURL prefixes minted tracking links, e.g.
	// https://mail.example.com
	TrackingBaseURL string
	// VerifyTimeout bounds the relay connectivity check on start/resume.
	VerifyTimeout time.Duration
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 25
}

func (c Config) budget() time.Duration {
	if c.Budget > 0 {
		return c.Budget
	}
	return 25 * time.Second
}

func (c Config) leaseTTL() time.Duration {
	if c.LeaseTTL > 0 {
		return c.LeaseTTL
	}
	// Comfortably above the budget so a live run never loses its lease,
	// short enough that a crashed host frees the campaign quickly.
	return 2 * time.Minute
}

func (c Config) statusCheckEvery() int {
	if c.StatusCheckEvery > 0 {
		return c.StatusCheckEvery
	}
	return 1
}

func (c Config) sendRateLimit() int {
	if c.SendRateLimit > 0 {
		return c.SendRateLimit
	}
	return 100
}

func (c Config) sendRateWindow() time.Duration {
	if c.SendRateWindow > 0 {
		return c.SendRateWindow
	}
	return time.Minute
}

func (c Config) verifyTimeout() time.Duration {
	if c.VerifyTimeout > 0 {
		return c.VerifyTimeout
	}
	return 10 * time.Second
}

type Engine struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Bounces    repository.BounceRepositoryInterface
	Tracking   repository.TrackingRepositoryInterface
	Leases     lease.Store
	Governor   limiter.Governor
	Secrets    *secrets.Store
	NewRelay   relay.Factory
	Tokens     *token.Codec
	Cfg        Config
	Logger     zerolog.Logger

	// Sleep and Now are overridable for tests; nil means real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (e *Engine) clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) logger() *zerolog.Logger {
	return &e.Logger
}
