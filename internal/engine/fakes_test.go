package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alihussnain1122/mail-back/internal/lease"
	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/repository"

	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
)

// In-memory fakes for the durable store. They mirror the SQL repositories'
// guard semantics: conditional status transitions and
// leave-pending-exactly-once recipient updates.

type fakeCampaignRepo struct {
	mu         sync.Mutex
	campaigns  map[int]*model.Campaign
	nextID     int
	recipients *fakeRecipientRepo
}

func newFakeCampaignRepo(recipients *fakeRecipientRepo) *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns:  make(map[int]*model.Campaign),
		nextID:     1,
		recipients: recipients,
	}
}

func (f *fakeCampaignRepo) CreateWithRecipients(c *model.Campaign, recs []*model.CampaignRecipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c.ID = f.nextID
	f.nextID++
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusQueued
	}
	c.TotalCount = len(recs)
	stored := *c
	f.campaigns[c.ID] = &stored

	for _, rec := range recs {
		rec.CampaignID = c.ID
		f.recipients.add(rec)
	}
	return nil
}

func (f *fakeCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaignRepo) GetStatus(id int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.campaigns[id]
	if !ok {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return c.Status, nil
}

func (f *fakeCampaignRepo) ListByOwner(ownerID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []*model.Campaign
	for _, c := range f.campaigns {
		if c.OwnerID == ownerID && (status == "" || c.Status == status) {
			copied := *c
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeCampaignRepo) ListRunningIDs() ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int
	for id, c := range f.campaigns {
		if c.Status == model.StatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *fakeCampaignRepo) TransitionStatus(id int, to string, from ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			if to == model.StatusRunning && c.StartedAt == nil {
				now := time.Now()
				c.StartedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCampaignRepo) SetError(id int, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	if c.Status != model.StatusRunning {
		return false, nil
	}
	c.Status = model.StatusError
	c.ErrorMessage = message
	return true, nil
}

func (f *fakeCampaignRepo) SetNextEmailAt(id int, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.campaigns[id]; ok {
		c.NextEmailAt = at
	}
	return nil
}

func (f *fakeCampaignRepo) IncrementSent(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.campaigns[id]; ok {
		c.SentCount++
	}
	return nil
}

func (f *fakeCampaignRepo) IncrementFailed(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.campaigns[id]; ok {
		c.FailedCount++
	}
	return nil
}

func (f *fakeCampaignRepo) StashDegradedCredentials(id int, blob string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.campaigns[id]; ok {
		c.RelayCredentials = blob
		c.CredentialsDegraded = true
	}
	return nil
}

func (f *fakeCampaignRepo) ClearCredentials(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.campaigns[id]; ok {
		c.RelayCredentials = ""
		c.CredentialsDegraded = false
	}
	return nil
}

type fakeRecipientRepo struct {
	mu         sync.Mutex
	recipients map[int]*model.CampaignRecipient
	nextID     int
}

func newFakeRecipientRepo() *fakeRecipientRepo {
	return &fakeRecipientRepo{
		recipients: make(map[int]*model.CampaignRecipient),
		nextID:     1,
	}
}

func (f *fakeRecipientRepo) add(rec *model.CampaignRecipient) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec.ID = f.nextID
	f.nextID++
	if rec.Status == "" {
		rec.Status = model.RecipientPending
	}
	stored := *rec
	f.recipients[rec.ID] = &stored
}

func (f *fakeRecipientRepo) FetchPending(campaignID, limit int) ([]*model.CampaignRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pending []*model.CampaignRecipient
	for _, rec := range f.recipients {
		if rec.CampaignID == campaignID && rec.Status == model.RecipientPending {
			copied := *rec
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SortOrder < pending[j].SortOrder })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeRecipientRepo) CountPending(campaignID int) (int, error) {
	stats, _ := f.CountByStatus(campaignID)
	return stats[model.RecipientPending], nil
}

func (f *fakeRecipientRepo) CountByStatus(campaignID int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := map[string]int{
		model.RecipientPending:   0,
		model.RecipientSent:      0,
		model.RecipientFailed:    0,
		model.RecipientCancelled: 0,
	}
	for _, rec := range f.recipients {
		if rec.CampaignID == campaignID {
			stats[rec.Status]++
		}
	}
	return stats, nil
}

func (f *fakeRecipientRepo) MarkSent(id int, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.recipients[id]
	if !ok || rec.Status != model.RecipientPending {
		return false, nil
	}
	now := time.Now()
	rec.Status = model.RecipientSent
	rec.TrackingToken = token
	rec.SentAt = &now
	return true, nil
}

func (f *fakeRecipientRepo) MarkFailed(id int, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.recipients[id]
	if !ok || rec.Status != model.RecipientPending {
		return false, nil
	}
	now := time.Now()
	rec.Status = model.RecipientFailed
	rec.ErrorMessage = errMsg
	rec.FailedAt = &now
	return true, nil
}

func (f *fakeRecipientRepo) CancelPending(campaignID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cancelled := 0
	for _, rec := range f.recipients {
		if rec.CampaignID == campaignID && rec.Status == model.RecipientPending {
			rec.Status = model.RecipientCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (f *fakeRecipientRepo) byCampaign(campaignID int) []*model.CampaignRecipient {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.CampaignRecipient
	for _, rec := range f.recipients {
		if rec.CampaignID == campaignID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

type fakeBounceRepo struct {
	mu      sync.Mutex
	records map[string]*model.BounceRecord
}

func newFakeBounceRepo() *fakeBounceRepo {
	return &fakeBounceRepo{records: make(map[string]*model.BounceRecord)}
}

func bounceKey(ownerID int, hash string) string {
	return fmt.Sprintf("%d:%s", ownerID, hash)
}

func (f *fakeBounceRepo) Upsert(rec *model.BounceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec.LastBouncedAt = time.Now()
	stored := *rec
	f.records[bounceKey(rec.OwnerID, rec.EmailHash)] = &stored
	return nil
}

func (f *fakeBounceRepo) GetByOwnerAndHash(ownerID int, emailHash string) (*model.BounceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[bounceKey(ownerID, emailHash)]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeBounceRepo) SuppressedHashes(ownerID int, hashes []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	suppressed := make(map[string]bool)
	for _, hash := range hashes {
		if rec, ok := f.records[bounceKey(ownerID, hash)]; ok && rec.Kind == "hard" {
			suppressed[hash] = true
		}
	}
	return suppressed, nil
}

func (f *fakeBounceRepo) ListByOwner(ownerID, offset, limit int) ([]*model.BounceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.BounceRecord
	for _, rec := range f.records {
		if rec.OwnerID == ownerID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

// fakeRelay scripts per-recipient outcomes and records every send.
type fakeRelay struct {
	mu        sync.Mutex
	verifyErr error
	outcomes  map[string]error
	sends     []relay.Message
	onSend    func(to string)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{outcomes: make(map[string]error)}
}

func (f *fakeRelay) Verify(context.Context) error {
	return f.verifyErr
}

func (f *fakeRelay) Send(_ context.Context, msg *relay.Message) (*relay.Result, error) {
	f.mu.Lock()
	f.sends = append(f.sends, *msg)
	err := f.outcomes[msg.To]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(msg.To)
	}
	if err != nil {
		return nil, err
	}
	return &relay.Result{ID: "accepted"}, nil
}

func (f *fakeRelay) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var to []string
	for _, msg := range f.sends {
		to = append(to, msg.To)
	}
	return to
}

func (f *fakeRelay) lastSend() *relay.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sends) == 0 {
		return nil
	}
	msg := f.sends[len(f.sends)-1]
	return &msg
}

// countingLeases wraps a lease store to observe acquisition attempts.
type countingLeases struct {
	inner    lease.Store
	mu       sync.Mutex
	acquires int
}

func (c *countingLeases) Acquire(ctx context.Context, campaignID int, ttl time.Duration) (*lease.Lease, error) {
	c.mu.Lock()
	c.acquires++
	c.mu.Unlock()
	return c.inner.Acquire(ctx, campaignID, ttl)
}

func (c *countingLeases) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquires
}

var (
	_ repository.CampaignRepositoryInterface  = (*fakeCampaignRepo)(nil)
	_ repository.RecipientRepositoryInterface = (*fakeRecipientRepo)(nil)
	_ repository.BounceRepositoryInterface    = (*fakeBounceRepo)(nil)
	_ relay.Relay                             = (*fakeRelay)(nil)
	_ lease.Store                             = (*countingLeases)(nil)
)
