// Package secrets holds the transient delivery secrets a campaign needs
// while it runs: relay credentials plus a template snapshot, stashed in
// the shared KV fast path. When the KV store is unreachable the
// credentials fall back to the campaign row itself - a deliberately
// labeled degraded mode - and every terminal transition erases them, so a
// secret never outlives its campaign.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/repository"
	"github.com/alihussnain1122/mail-back/internal/store"
)

// ErrNoCredentials means neither the fast path nor the degraded stash has
// credentials for the campaign; the caller must ask for them again.
var ErrNoCredentials = errors.New("no relay credentials stashed for campaign")

// Snapshot is the per-campaign delivery state stashed at start/resume.
type Snapshot struct {
	Credentials relay.Credentials `json:"credentials"`
	Subject     string            `json:"subject"`
	BodyHTML    string            `json:"body_html"`
	BodyText    string            `json:"body_text"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Store struct {
	KV        store.KV
	Campaigns repository.CampaignRepositoryInterface
	Logger    zerolog.Logger
	TTL       time.Duration
}

func NewStore(kv store.KV, campaigns repository.CampaignRepositoryInterface, logger zerolog.Logger) *Store {
	return &Store{
		KV:        kv,
		Campaigns: campaigns,
		Logger:    logger.With().Str("component", "secrets").Logger(),
		TTL:       7 * 24 * time.Hour,
	}
}

// Stash saves the campaign's snapshot. A KV failure degrades to storing
// the credentials on the campaign row rather than failing the start.
func (s *Store) Stash(ctx context.Context, campaignID int, snap *Snapshot) error {
	snap.UpdatedAt = time.Now()

	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := s.KV.Set(ctx, snapshotKey(campaignID), string(blob), s.TTL); err == nil {
		// Fast path holds the secrets; make sure no stale degraded copy
		// survives on the row.
		if clearErr := s.Campaigns.ClearCredentials(campaignID); clearErr != nil {
			s.Logger.Warn().Err(clearErr).Int("campaign_id", campaignID).
				Msg("could not clear degraded credential stash")
		}
		return nil
	} else {
		s.Logger.Warn().Err(err).Int("campaign_id", campaignID).
			Msg("fast-path store unreachable, stashing credentials in degraded mode")
	}

	creds, err := json.Marshal(snap.Credentials)
	if err != nil {
		return err
	}
	return s.Campaigns.StashDegradedCredentials(campaignID, string(creds))
}

// Load resolves the campaign's snapshot, preferring the fast path (it is
// rewritten on every start/resume, so it is always at least as recent as
// the row) and falling back to the degraded row stash.
func (s *Store) Load(ctx context.Context, c *model.Campaign) (*Snapshot, error) {
	blob, err := s.KV.Get(ctx, snapshotKey(c.ID))
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal([]byte(blob), &snap); err == nil {
			return &snap, nil
		}
		s.Logger.Warn().Int("campaign_id", c.ID).Msg("corrupt snapshot in fast path, falling back to row")
	} else if !errors.Is(err, store.ErrNotFound) {
		s.Logger.Warn().Err(err).Int("campaign_id", c.ID).Msg("fast-path store unreachable, falling back to row")
	}

	if c.RelayCredentials == "" {
		return nil, ErrNoCredentials
	}

	var creds relay.Credentials
	if err := json.Unmarshal([]byte(c.RelayCredentials), &creds); err != nil {
		return nil, fmt.Errorf("corrupt degraded credential stash: %w", err)
	}

	return &Snapshot{
		Credentials: creds,
		Subject:     c.Subject,
		BodyHTML:    c.BodyHTML,
		BodyText:    c.BodyText,
	}, nil
}

// Erase removes every copy of the campaign's secrets. Called on complete,
// stop, and error.
func (s *Store) Erase(ctx context.Context, campaignID int) error {
	kvErr := s.KV.Delete(ctx, snapshotKey(campaignID))
	rowErr := s.Campaigns.ClearCredentials(campaignID)
	if kvErr != nil {
		return kvErr
	}
	return rowErr
}

func snapshotKey(campaignID int) string {
	return fmt.Sprintf("campaign:snapshot:%d", campaignID)
}
