package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alihussnain1122/mail-back/internal/bounce"
	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
	"github.com/alihussnain1122/mail-back/internal/lease"
	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/personalize"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/schedule"
	"github.com/alihussnain1122/mail-back/internal/secrets"
	"github.com/alihussnain1122/mail-back/internal/token"
)

// AdvanceResult reports one batch invocation's work.
type AdvanceResult struct {
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Completed bool `json:"completed"`
	// NextDelay hints when the caller should schedule the next tick when
	// the campaign is not yet complete.
	NextDelay time.Duration `json:"-"`
}

// Advance runs one time-boxed batch for the campaign. It is safe to call
// repeatedly and concurrently: the per-campaign lease serializes runs, and
// every recipient leaves pending at most once regardless of how many times
// the invocation is retried or restarted. The caller is responsible for
// invoking Advance again while Completed is false.
func (e *Engine) Advance(ctx context.Context, campaignID int) (AdvanceResult, error) {
	var res AdvanceResult

	// Trivial pre-check before any lease traffic: most ticks for paused
	// or finished campaigns end here.
	status, err := e.Campaigns.GetStatus(campaignID)
	if err != nil {
		return res, err
	}
	if status != model.StatusRunning {
		return res, nil
	}

	held, err := e.Leases.Acquire(ctx, campaignID, e.Cfg.leaseTTL())
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return res, appErrors.ErrLeaseHeld
		}
		return res, fmt.Errorf("acquire campaign lease: %w", err)
	}
	defer func() {
		if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger().Warn().Err(rerr).Int("campaign_id", campaignID).Msg("could not release campaign lease")
		}
	}()

	startedAt := e.clock()

	c, err := e.Campaigns.GetByID(campaignID)
	if err != nil {
		return res, e.faultOut(ctx, campaignID, fmt.Errorf("load campaign: %w", err))
	}
	if c.Status != model.StatusRunning {
		// Lost a race with pause/stop between the pre-check and here.
		return res, nil
	}

	snap, err := e.Secrets.Load(ctx, c)
	if err != nil {
		return res, e.faultOut(ctx, campaignID, fmt.Errorf("resolve delivery snapshot: %w", err))
	}
	sender := e.NewRelay(snap.Credentials)

	batch, err := e.Recipients.FetchPending(campaignID, e.Cfg.batchSize())
	if err != nil {
		return res, e.faultOut(ctx, campaignID, fmt.Errorf("fetch pending recipients: %w", err))
	}
	if len(batch) == 0 {
		return e.finishIfDrained(ctx, c, res)
	}

	minMs, maxMs := schedule.ClampBounds(c.MinDelayMs, c.MaxDelayMs)
	logger := e.logger().With().Int("campaign_id", campaignID).Logger()

	for i, rec := range batch {
		// Cooperative cancellation: a pause or stop that landed since the
		// last check wins before the next recipient is touched.
		if i > 0 && i%e.Cfg.statusCheckEvery() == 0 {
			status, err := e.Campaigns.GetStatus(campaignID)
			if err != nil {
				return res, e.faultOut(ctx, campaignID, fmt.Errorf("re-read campaign status: %w", err))
			}
			if status != model.StatusRunning {
				logger.Info().Str("status", status).Int("processed", i).Msg("campaign left running, yielding batch")
				return res, nil
			}
		}

		// The budget is checked before the send, not only after: sending
		// itself can be slow and the host may kill us with no grace.
		if schedule.BudgetExceeded(startedAt, e.clock(), e.Cfg.budget()) {
			logger.Debug().Int("processed", i).Msg("time budget exhausted, yielding batch")
			return res, nil
		}

		rate, err := e.Governor.CheckRate(ctx,
			fmt.Sprintf("owner:%d:send", c.OwnerID),
			e.Cfg.sendRateLimit(), e.Cfg.sendRateWindow())
		if err != nil {
			// Governor store unreachable: abort this invocation, leave the
			// campaign running so the next tick retries.
			return res, fmt.Errorf("check send rate: %w", err)
		}
		if !rate.Allowed {
			logger.Info().Time("reset_at", rate.ResetAt).Msg("send rate ceiling reached, yielding batch")
			resetAt := rate.ResetAt
			if err := e.Campaigns.SetNextEmailAt(campaignID, &resetAt); err != nil {
				logger.Warn().Err(err).Msg("could not record next email hint")
			}
			return res, nil
		}

		outcome, err := e.deliverOne(ctx, c, snap, sender, rec)
		if err != nil {
			return res, e.faultOut(ctx, campaignID, err)
		}
		res.Sent += outcome.sent
		res.Failed += outcome.failed

		res.NextDelay = schedule.NextDelay(minMs, maxMs)
		if i < len(batch)-1 {
			next := e.clock().Add(res.NextDelay)
			if err := e.Campaigns.SetNextEmailAt(campaignID, &next); err != nil {
				logger.Warn().Err(err).Msg("could not record next email hint")
			}
			if err := e.sleep(ctx, res.NextDelay); err != nil {
				// Context cancelled; remaining recipients stay pending.
				return res, nil
			}
		}
	}

	return e.finishIfDrained(ctx, c, res)
}

type deliveryOutcome struct {
	sent   int
	failed int
}

// deliverOne personalizes, sends, and persists one recipient's outcome. A
// delivery rejection never aborts the batch; a relay-wide outage or a
// store failure does, as a returned error.
func (e *Engine) deliverOne(ctx context.Context, c *model.Campaign, snap *secrets.Snapshot, sender relay.Relay, rec *model.CampaignRecipient) (deliveryOutcome, error) {
	var out deliveryOutcome
	logger := e.logger().With().
		Int("campaign_id", c.ID).
		Int("recipient_id", rec.ID).
		Logger()

	vars := personalize.Variables(rec.Variables)
	subject := personalize.Render(snap.Subject, vars)
	html := personalize.Render(snap.BodyHTML, vars)
	text := personalize.Render(snap.BodyText, vars)

	var trackingToken string
	if c.TrackingEnabled {
		tok, err := e.Tokens.Mint(c.ID, rec.Email, c.OwnerID)
		if err != nil {
			// Tracking is best-effort; the message still goes out.
			logger.Warn().Err(err).Msg("could not mint tracking token")
		} else {
			trackingToken = tok
			html = injectOpenPixel(html, e.Cfg.TrackingBaseURL, tok)
		}
	}

	from := snap.Credentials.FromEmail
	fromName := snap.Credentials.FromName
	if from == "" {
		from = c.FromEmail
		fromName = c.FromName
	}

	_, sendErr := sender.Send(ctx, &relay.Message{
		From:     from,
		FromName: fromName,
		To:       rec.Email,
		Subject:  subject,
		HTML:     html,
		Text:     text,
	})

	switch {
	case sendErr == nil:
		changed, err := e.Recipients.MarkSent(rec.ID, trackingToken)
		if err != nil {
			return out, fmt.Errorf("mark recipient sent: %w", err)
		}
		if changed {
			if err := e.Campaigns.IncrementSent(c.ID); err != nil {
				return out, fmt.Errorf("increment sent count: %w", err)
			}
			out.sent++
		}
		logger.Debug().Msg("recipient delivered")

	case errors.Is(sendErr, relay.ErrUnavailable):
		// Not a per-recipient outcome: the relay itself is gone.
		return out, fmt.Errorf("relay unreachable: %w", sendErr)

	default:
		errText, code := rejectionDetails(sendErr)
		cls := bounce.Classify(errText, code)

		changed, err := e.Recipients.MarkFailed(rec.ID, errText)
		if err != nil {
			return out, fmt.Errorf("mark recipient failed: %w", err)
		}
		if changed {
			if err := e.Campaigns.IncrementFailed(c.ID); err != nil {
				return out, fmt.Errorf("increment failed count: %w", err)
			}
			out.failed++

			if cls.Kind == bounce.KindHard {
				campaignID := c.ID
				record := &model.BounceRecord{
					OwnerID:    c.OwnerID,
					Email:      rec.Email,
					EmailHash:  token.HashEmail(rec.Email),
					Kind:       cls.Kind,
					Reason:     errText,
					CampaignID: &campaignID,
				}
				if err := e.Bounces.Upsert(record); err != nil {
					logger.Warn().Err(err).Msg("could not upsert bounce record")
				}
			}
		}
		logger.Info().
			Str("kind", cls.Kind).
			Str("error", errText).
			Msg("recipient delivery failed")
	}

	return out, nil
}

// finishIfDrained completes the campaign when no pending recipients
// remain and it is still running.
func (e *Engine) finishIfDrained(ctx context.Context, c *model.Campaign, res AdvanceResult) (AdvanceResult, error) {
	pending, err := e.Recipients.CountPending(c.ID)
	if err != nil {
		return res, e.faultOut(ctx, c.ID, fmt.Errorf("count pending recipients: %w", err))
	}
	if pending > 0 {
		return res, nil
	}

	moved, err := e.Campaigns.TransitionStatus(c.ID, model.StatusCompleted, model.StatusRunning)
	if err != nil {
		return res, err
	}
	if !moved {
		return res, nil
	}

	// Transient delivery secrets die with the campaign.
	if err := e.Secrets.Erase(ctx, c.ID); err != nil {
		e.logger().Warn().Err(err).Int("campaign_id", c.ID).Msg("could not erase campaign secrets")
	}
	e.releaseSlot(ctx, c.OwnerID)
	if err := e.Campaigns.SetNextEmailAt(c.ID, nil); err != nil {
		e.logger().Warn().Err(err).Int("campaign_id", c.ID).Msg("could not clear next email hint")
	}

	res.Completed = true
	e.logger().Info().Int("campaign_id", c.ID).Msg("campaign completed")
	return res, nil
}

// faultOut records an unrecoverable processing fault: the campaign moves
// to error, secrets are erased, and remaining recipients stay pending. The
// original fault is returned. Side effects only fire when this call won
// the transition; a stop or completion that landed first already erased
// secrets and released the owner's slot, and releasing again would let the
// owner exceed the concurrent-campaign ceiling.
func (e *Engine) faultOut(ctx context.Context, campaignID int, cause error) error {
	e.logger().Error().Err(cause).Int("campaign_id", campaignID).Msg("campaign processing fault")

	moved, err := e.Campaigns.SetError(campaignID, cause.Error())
	if err != nil {
		e.logger().Error().Err(err).Int("campaign_id", campaignID).Msg("could not record campaign error state")
		return cause
	}
	if !moved {
		return cause
	}
	if err := e.Secrets.Erase(ctx, campaignID); err != nil {
		e.logger().Warn().Err(err).Int("campaign_id", campaignID).Msg("could not erase campaign secrets")
	}
	if c, err := e.Campaigns.GetByID(campaignID); err == nil {
		e.releaseSlot(ctx, c.OwnerID)
	}
	return cause
}

func rejectionDetails(err error) (string, int) {
	var rejection *relay.SendError
	if errors.As(err, &rejection) {
		return rejection.Text, rejection.Code
	}
	return err.Error(), 0
}

// injectOpenPixel appends the tracking pixel to the HTML body, before the
// closing body tag when there is one.
func injectOpenPixel(html, baseURL, tok string) string {
	pixel := fmt.Sprintf(`<img src="%s/t/o/%s" width="1" height="1" alt="" style="display:none"/>`, baseURL, tok)
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}
