package engine

import (
	"context"
	"fmt"

	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/personalize"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/schedule"
	"github.com/alihussnain1122/mail-back/internal/secrets"
	"github.com/alihussnain1122/mail-back/internal/token"
)

// CampaignSpec describes a campaign to create, with its complete recipient
// list. Partial recipient sets are not supported.
type CampaignSpec struct {
	OwnerID         int             `json:"owner_id"`
	Name            string          `json:"name"`
	Subject         string          `json:"subject"`
	BodyHTML        string          `json:"body_html"`
	BodyText        string          `json:"body_text"`
	FromEmail       string          `json:"from_email"`
	FromName        string          `json:"from_name"`
	MinDelayMs      int             `json:"min_delay_ms"`
	MaxDelayMs      int             `json:"max_delay_ms"`
	TrackingEnabled bool            `json:"tracking_enabled"`
	Recipients      []RecipientSpec `json:"recipients"`
}

type RecipientSpec struct {
	Email     string            `json:"email"`
	Variables map[string]string `json:"variables,omitempty"`
}

// StatusSnapshot is what pollers see.
type StatusSnapshot struct {
	Campaign   *model.Campaign `json:"campaign"`
	Recipients map[string]int  `json:"recipients"`
	Tracking   map[string]int  `json:"tracking,omitempty"`
}

// Create materializes a campaign and all its recipients atomically, in the
// queued state. Recipients the owner must not send to (prior hard bounce
// or unsubscribe) are created cancelled rather than silently dropped, so
// the totals still add up.
func (e *Engine) Create(ctx context.Context, spec CampaignSpec) (*model.Campaign, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	if spec.Subject == "" {
		return nil, fmt.Errorf("campaign subject is required")
	}
	if len(spec.Recipients) == 0 {
		return nil, fmt.Errorf("campaign requires at least one recipient")
	}
	if err := schedule.ValidateBounds(spec.MinDelayMs, spec.MaxDelayMs); err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(spec.Recipients))
	for _, r := range spec.Recipients {
		if r.Email == "" {
			return nil, fmt.Errorf("recipient email must not be empty")
		}
		hashes = append(hashes, token.HashEmail(r.Email))
	}

	suppressed, err := e.Bounces.SuppressedHashes(spec.OwnerID, hashes)
	if err != nil {
		return nil, fmt.Errorf("check suppressions: %w", err)
	}

	minMs, maxMs := schedule.ClampBounds(spec.MinDelayMs, spec.MaxDelayMs)

	recipients := make([]*model.CampaignRecipient, 0, len(spec.Recipients))
	for i, r := range spec.Recipients {
		rec := &model.CampaignRecipient{
			Email:     r.Email,
			Variables: personalize.Variables(r.Variables),
			Status:    model.RecipientPending,
			SortOrder: i,
		}
		if suppressed[hashes[i]] {
			rec.Status = model.RecipientCancelled
			rec.ErrorMessage = "suppressed: prior hard bounce or unsubscribe"
		}
		recipients = append(recipients, rec)
	}

	c := &model.Campaign{
		OwnerID:         spec.OwnerID,
		Name:            spec.Name,
		Status:          model.StatusQueued,
		Subject:         spec.Subject,
		BodyHTML:        spec.BodyHTML,
		BodyText:        spec.BodyText,
		FromEmail:       spec.FromEmail,
		FromName:        spec.FromName,
		MinDelayMs:      minMs,
		MaxDelayMs:      maxMs,
		TrackingEnabled: spec.TrackingEnabled,
	}

	if err := e.Campaigns.CreateWithRecipients(c, recipients); err != nil {
		return nil, err
	}

	e.logger().Info().
		Int("campaign_id", c.ID).
		Int("owner_id", c.OwnerID).
		Int("recipients", len(recipients)).
		Msg("campaign created")

	return c, nil
}

// Start moves a queued campaign to running. The transition commits only
// after the relay connectivity probe succeeds and a per-owner campaign
// slot is reserved.
func (e *Engine) Start(ctx context.Context, campaignID int, creds relay.Credentials) error {
	c, err := e.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusQueued {
		return appErrors.NewInvalidTransition(c.Status, model.StatusRunning)
	}

	ok, err := e.Governor.TryAcquireCampaignSlot(ctx, c.OwnerID)
	if err != nil {
		return fmt.Errorf("acquire campaign slot: %w", err)
	}
	if !ok {
		return fmt.Errorf("owner %d at concurrent campaign ceiling: %w", c.OwnerID, appErrors.ErrRateLimited)
	}

	if err := e.verifyRelay(ctx, creds); err != nil {
		e.releaseSlot(ctx, c.OwnerID)
		return err
	}

	if err := e.stashSnapshot(ctx, c, creds); err != nil {
		e.releaseSlot(ctx, c.OwnerID)
		return err
	}

	moved, err := e.Campaigns.TransitionStatus(campaignID, model.StatusRunning, model.StatusQueued)
	if err != nil {
		e.releaseSlot(ctx, c.OwnerID)
		return err
	}
	if !moved {
		// Lost a race with another lifecycle call.
		e.releaseSlot(ctx, c.OwnerID)
		status, _ := e.Campaigns.GetStatus(campaignID)
		return appErrors.NewInvalidTransition(status, model.StatusRunning)
	}

	e.logger().Info().Int("campaign_id", campaignID).Msg("campaign started")
	return nil
}

// StartCampaign creates and starts a campaign in one call.
func (e *Engine) StartCampaign(ctx context.Context, spec CampaignSpec, creds relay.Credentials) (int, error) {
	c, err := e.Create(ctx, spec)
	if err != nil {
		return 0, err
	}
	if err := e.Start(ctx, c.ID, creds); err != nil {
		return c.ID, err
	}
	return c.ID, nil
}

// Pause moves a running campaign to paused. The in-flight batch run
// observes the new status at its next per-recipient check and stops; the
// pause is cooperative, not instantaneous.
func (e *Engine) Pause(ctx context.Context, campaignID int) error {
	moved, err := e.Campaigns.TransitionStatus(campaignID, model.StatusPaused, model.StatusRunning)
	if err != nil {
		return err
	}
	if !moved {
		status, serr := e.Campaigns.GetStatus(campaignID)
		if serr != nil {
			return serr
		}
		return appErrors.NewInvalidTransition(status, model.StatusPaused)
	}
	e.logger().Info().Int("campaign_id", campaignID).Msg("campaign paused")
	return nil
}

// Resume moves a paused campaign back to running. Credentials must be
// supplied again; they are not guaranteed to be retained across a pause.
func (e *Engine) Resume(ctx context.Context, campaignID int, creds relay.Credentials) error {
	c, err := e.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusPaused {
		return appErrors.NewInvalidTransition(c.Status, model.StatusRunning)
	}

	if err := e.verifyRelay(ctx, creds); err != nil {
		return err
	}
	if err := e.stashSnapshot(ctx, c, creds); err != nil {
		return err
	}

	moved, err := e.Campaigns.TransitionStatus(campaignID, model.StatusRunning, model.StatusPaused)
	if err != nil {
		return err
	}
	if !moved {
		status, _ := e.Campaigns.GetStatus(campaignID)
		return appErrors.NewInvalidTransition(status, model.StatusRunning)
	}

	e.logger().Info().Int("campaign_id", campaignID).Msg("campaign resumed")
	return nil
}

// Stop terminates a campaign from any non-terminal state. Remaining
// pending recipients become cancelled, irreversibly.
func (e *Engine) Stop(ctx context.Context, campaignID int) error {
	c, err := e.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if model.Terminal(c.Status) {
		return appErrors.NewInvalidTransition(c.Status, model.StatusStopped)
	}

	moved, err := e.Campaigns.TransitionStatus(campaignID, model.StatusStopped,
		model.StatusQueued, model.StatusRunning, model.StatusPaused)
	if err != nil {
		return err
	}
	if !moved {
		status, _ := e.Campaigns.GetStatus(campaignID)
		return appErrors.NewInvalidTransition(status, model.StatusStopped)
	}

	cancelled, err := e.Recipients.CancelPending(campaignID)
	if err != nil {
		return err
	}

	if err := e.Secrets.Erase(ctx, campaignID); err != nil {
		e.logger().Warn().Err(err).Int("campaign_id", campaignID).Msg("could not erase campaign secrets")
	}
	if c.Status != model.StatusQueued {
		// Queued campaigns never held a slot.
		e.releaseSlot(ctx, c.OwnerID)
	}

	e.logger().Info().
		Int("campaign_id", campaignID).
		Int("cancelled", cancelled).
		Msg("campaign stopped")
	return nil
}

// Status returns the polled progress snapshot.
func (e *Engine) Status(ctx context.Context, campaignID int) (*StatusSnapshot, error) {
	c, err := e.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	// Never leak the degraded credential stash through the snapshot.
	c.RelayCredentials = ""

	stats, err := e.Recipients.CountByStatus(campaignID)
	if err != nil {
		return nil, err
	}

	snap := &StatusSnapshot{Campaign: c, Recipients: stats}
	if c.TrackingEnabled && e.Tracking != nil {
		if counts, err := e.Tracking.CountByCampaign(campaignID); err == nil {
			snap.Tracking = counts
		}
	}
	return snap, nil
}

func (e *Engine) verifyRelay(ctx context.Context, creds relay.Credentials) error {
	vctx, cancel := context.WithTimeout(ctx, e.Cfg.verifyTimeout())
	defer cancel()

	if err := e.NewRelay(creds).Verify(vctx); err != nil {
		return fmt.Errorf("%w: %v", appErrors.ErrRelayUnverified, err)
	}
	return nil
}

func (e *Engine) stashSnapshot(ctx context.Context, c *model.Campaign, creds relay.Credentials) error {
	return e.Secrets.Stash(ctx, c.ID, &secrets.Snapshot{
		Credentials: creds,
		Subject:     c.Subject,
		BodyHTML:    c.BodyHTML,
		BodyText:    c.BodyText,
	})
}

func (e *Engine) releaseSlot(ctx context.Context, ownerID int) {
	if err := e.Governor.ReleaseCampaignSlot(ctx, ownerID); err != nil {
		e.logger().Warn().Err(err).Int("owner_id", ownerID).Msg("could not release campaign slot")
	}
}
