package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
	"github.com/alihussnain1122/mail-back/internal/limiter"
	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/token"
)

func TestCreateValidatesSpec(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	cases := []struct {
		name   string
		mutate func(*CampaignSpec)
	}{
		{"missing name", func(s *CampaignSpec) { s.Name = "" }},
		{"missing subject", func(s *CampaignSpec) { s.Subject = "" }},
		{"no recipients", func(s *CampaignSpec) { s.Recipients = nil }},
		{"recipient without email", func(s *CampaignSpec) { s.Recipients[0].Email = "" }},
		{"negative delay", func(s *CampaignSpec) { s.MinDelayMs = -1 }},
		{"inverted delay bounds", func(s *CampaignSpec) { s.MinDelayMs = 5000; s.MaxDelayMs = 2000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := testSpec(2)
			tc.mutate(&spec)
			_, err := f.engine.Create(ctx, spec)
			assert.Error(t, err)
		})
	}
}

func TestCreateStartsQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	c, err := f.engine.Create(ctx, testSpec(3))
	require.NoError(t, err)

	assert.Equal(t, model.StatusQueued, c.Status)
	assert.Equal(t, 3, c.TotalCount)

	stats, _ := f.recipients.CountByStatus(c.ID)
	assert.Equal(t, 3, stats[model.RecipientPending])
}

func TestCreateSuppressesHardBouncedRecipients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	require.NoError(t, f.bounces.Upsert(&model.BounceRecord{
		OwnerID:   1,
		EmailHash: token.HashEmail("user1@example.com"),
		Kind:      "hard",
		Reason:    "user unknown",
	}))

	c, err := f.engine.Create(ctx, testSpec(3))
	require.NoError(t, err)

	recs := f.recipients.byCampaign(c.ID)
	require.Len(t, recs, 3)
	assert.Equal(t, model.RecipientPending, recs[0].Status)
	assert.Equal(t, model.RecipientCancelled, recs[1].Status)
	assert.Contains(t, recs[1].ErrorMessage, "suppressed")
	assert.Equal(t, model.RecipientPending, recs[2].Status)
}

func TestStartRequiresVerifiedRelay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})
	f.relay.verifyErr = errors.New("connection refused")

	c, err := f.engine.Create(ctx, testSpec(2))
	require.NoError(t, err)

	err = f.engine.Start(ctx, c.ID, testCreds())
	assert.ErrorIs(t, err, appErrors.ErrRelayUnverified)

	status, _ := f.campaigns.GetStatus(c.ID)
	assert.Equal(t, model.StatusQueued, status, "failed verification leaves the campaign queued")

	// The slot taken for the attempt was handed back.
	f.relay.verifyErr = nil
	assert.NoError(t, f.engine.Start(ctx, c.ID, testCreds()))
}

func TestStartEnforcesConcurrentCampaignCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})
	f.engine.Governor = limiter.NewMemoryGovernor(1)

	first, err := f.engine.Create(ctx, testSpec(1))
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(ctx, first.ID, testCreds()))

	second, err := f.engine.Create(ctx, testSpec(1))
	require.NoError(t, err)
	err = f.engine.Start(ctx, second.ID, testCreds())
	assert.ErrorIs(t, err, appErrors.ErrRateLimited)

	// Completing the first frees the slot for the second.
	res, err := f.engine.Advance(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, res.Completed)

	assert.NoError(t, f.engine.Start(ctx, second.ID, testCreds()))
}

func TestPauseAndResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{BatchSize: 2})
	c := startedCampaign(t, f, 4)

	res, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, res.Sent)

	require.NoError(t, f.engine.Pause(ctx, c.ID))
	status, _ := f.campaigns.GetStatus(c.ID)
	assert.Equal(t, model.StatusPaused, status)

	require.NoError(t, f.engine.Resume(ctx, c.ID, testCreds()))
	status, _ = f.campaigns.GetStatus(c.ID)
	assert.Equal(t, model.StatusRunning, status)

	// Progress survives the pause: only the remaining two go out.
	res, err = f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.True(t, res.Completed)
	assert.Len(t, f.relay.sentTo(), 4)
}

func TestPauseRejectsNonRunningCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	c, err := f.engine.Create(ctx, testSpec(1))
	require.NoError(t, err)

	err = f.engine.Pause(ctx, c.ID)
	var invalid *appErrors.ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestStopCancelsPendingAndIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{BatchSize: 2})
	c := startedCampaign(t, f, 6)

	_, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.Stop(ctx, c.ID))

	status, _ := f.campaigns.GetStatus(c.ID)
	assert.Equal(t, model.StatusStopped, status)

	stats, _ := f.recipients.CountByStatus(c.ID)
	assert.Equal(t, 0, stats[model.RecipientPending])
	assert.Equal(t, 4, stats[model.RecipientCancelled])
	assert.Equal(t, 2, stats[model.RecipientSent])

	// Terminal states are one-way.
	var invalid *appErrors.ErrInvalidTransition
	assert.ErrorAs(t, f.engine.Resume(ctx, c.ID, testCreds()), &invalid)
	assert.ErrorAs(t, f.engine.Pause(ctx, c.ID), &invalid)
	assert.ErrorAs(t, f.engine.Stop(ctx, c.ID), &invalid)

	// Advance after stop is a quiet no-op.
	res, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.False(t, res.Completed)
}

func TestStopErasesDeliverySecrets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})
	c := startedCampaign(t, f, 2)

	require.NoError(t, f.engine.Stop(ctx, c.ID))

	row, err := f.campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.Empty(t, row.RelayCredentials)
	assert.False(t, row.CredentialsDegraded)

	_, err = f.engine.Secrets.Load(ctx, row)
	assert.Error(t, err, "stopped campaign has no recoverable credentials")
}

func TestResumeRefreshesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{BatchSize: 10})
	c := startedCampaign(t, f, 1)
	require.NoError(t, f.engine.Pause(ctx, c.ID))

	fresh := testCreds()
	fresh.FromEmail = "updates@example.com"
	require.NoError(t, f.engine.Resume(ctx, c.ID, fresh))

	res, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
	assert.Equal(t, "updates@example.com", f.relay.lastSend().From)
}

func TestStatusReportsProgressWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{BatchSize: 2})
	c := startedCampaign(t, f, 4)

	f.relay.outcomes["user1@example.com"] = errTestRejection()

	_, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)

	snap, err := f.engine.Status(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusRunning, snap.Campaign.Status)
	assert.Empty(t, snap.Campaign.RelayCredentials)
	assert.Equal(t, 1, snap.Recipients[model.RecipientSent])
	assert.Equal(t, 1, snap.Recipients[model.RecipientFailed])
	assert.Equal(t, 2, snap.Recipients[model.RecipientPending])
}

func TestCompletedCampaignCannotRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{BatchSize: 10})
	c := startedCampaign(t, f, 2)

	res, err := f.engine.Advance(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, res.Completed)

	err = f.engine.Start(ctx, c.ID, testCreds())
	assert.Error(t, err, "completed campaigns never run again")

	status, _ := f.campaigns.GetStatus(c.ID)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestClampedDelayBoundsPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	spec := testSpec(1)
	spec.MinDelayMs = 0 // below the floor
	spec.MaxDelayMs = 0
	c, err := f.engine.Create(ctx, spec)
	require.NoError(t, err)

	row, err := f.campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, row.MinDelayMs, 1000)
	assert.LessOrEqual(t, row.MinDelayMs, row.MaxDelayMs)
}

func errTestRejection() error {
	return &testRejection{}
}

type testRejection struct{}

func (*testRejection) Error() string { return "550 mailbox does not exist" }

var _ error = (*testRejection)(nil)

// Degraded mode: the KV store failing at start must not block the
// campaign; credentials fall back to the database row and are still
// erased on stop.
func TestDegradedCredentialStash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})
	f.engine.Secrets.KV = &failingKV{}

	c, err := f.engine.Create(ctx, testSpec(1))
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(ctx, c.ID, testCreds()))

	row, err := f.campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.True(t, row.CredentialsDegraded)
	assert.NotEmpty(t, row.RelayCredentials)

	require.NoError(t, f.engine.Stop(ctx, c.ID))
	row, _ = f.campaigns.GetByID(c.ID)
	assert.Empty(t, row.RelayCredentials)
}

type failingKV struct{}

func (*failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("kv unreachable")
}

func (*failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("kv unreachable")
}

func (*failingKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("kv unreachable")
}

func (*failingKV) Delete(context.Context, string) error {
	return errors.New("kv unreachable")
}
