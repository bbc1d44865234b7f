package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/alihussnain1122/mail-back/internal/engine"
	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/relay"
	"github.com/alihussnain1122/mail-back/internal/repository"
)

// CampaignService is the slice of the engine the HTTP layer needs.
type CampaignService interface {
	Create(ctx context.Context, spec engine.CampaignSpec) (*model.Campaign, error)
	Start(ctx context.Context, campaignID int, creds relay.Credentials) error
	StartCampaign(ctx context.Context, spec engine.CampaignSpec, creds relay.Credentials) (int, error)
	Pause(ctx context.Context, campaignID int) error
	Resume(ctx context.Context, campaignID int, creds relay.Credentials) error
	Stop(ctx context.Context, campaignID int) error
	Advance(ctx context.Context, campaignID int) (engine.AdvanceResult, error)
	Status(ctx context.Context, campaignID int) (*engine.StatusSnapshot, error)
}

// TickPublisher schedules the first background batch after start/resume.
type TickPublisher interface {
	PublishTick(campaignID int) error
}

type CampaignController struct {
	Service   CampaignService
	Campaigns repository.CampaignRepositoryInterface
	Ticks     TickPublisher
	Logger    zerolog.Logger
}

var _ CampaignService = (*engine.Engine)(nil)

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var spec engine.CampaignSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.Service.Create(r.Context(), spec)
	if err != nil {
		c.writeError(w, err, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

// LaunchCampaign creates a campaign and starts it in one request. If the
// start step fails the campaign stays queued and can be started alone.
func (c *CampaignController) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		engine.CampaignSpec
		Credentials relay.Credentials `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	id, err := c.Service.StartCampaign(r.Context(), body.CampaignSpec, body.Credentials)
	if err != nil {
		if id != 0 {
			c.Logger.Warn().Err(err).Int("campaign_id", id).Msg("campaign created but did not start")
		}
		c.writeError(w, err, http.StatusBadRequest)
		return
	}
	c.scheduleTick(id)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"campaign_id": id, "status": model.StatusRunning})
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var creds relay.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.Service.Start(r.Context(), id, creds); err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	c.scheduleTick(id)

	json.NewEncoder(w).Encode(map[string]any{"campaign_id": id, "status": model.StatusRunning})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := c.Service.Pause(r.Context(), id); err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"campaign_id": id, "status": model.StatusPaused})
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var creds relay.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.Service.Resume(r.Context(), id, creds); err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	c.scheduleTick(id)

	json.NewEncoder(w).Encode(map[string]any{"campaign_id": id, "status": model.StatusRunning})
}

func (c *CampaignController) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := c.Service.Stop(r.Context(), id); err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"campaign_id": id, "status": model.StatusStopped})
}

// AdvanceCampaign runs one batch synchronously. Normal operation drives
// batches through the worker; this endpoint exists for operators and
// external schedulers.
func (c *CampaignController) AdvanceCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	res, err := c.Service.Advance(r.Context(), id)
	if err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(res)
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	snap, err := c.Service.Status(r.Context(), id)
	if err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := strconv.Atoi(r.URL.Query().Get("owner_id"))
	if ownerID <= 0 {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, total, err := c.Campaigns.ListByOwner(ownerID, (page-1)*pageSize, pageSize, status)
	if err != nil {
		c.writeError(w, err, http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	json.NewEncoder(w).Encode(map[string]any{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (c *CampaignController) scheduleTick(campaignID int) {
	if c.Ticks == nil {
		return
	}
	if err := c.Ticks.PublishTick(campaignID); err != nil {
		// The cron sweep will find the running campaign anyway.
		c.Logger.Warn().Err(err).Int("campaign_id", campaignID).Msg("could not publish advance tick")
	}
}

// writeError maps engine errors onto HTTP statuses. fallback covers plain
// errors, which mean different things per endpoint.
func (c *CampaignController) writeError(w http.ResponseWriter, err error, fallback int) {
	status := fallback

	var invalid *appErrors.ErrInvalidTransition
	switch {
	case appErrors.IsCampaignNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &invalid):
		status = http.StatusConflict
	case errors.Is(err, appErrors.ErrLeaseHeld):
		status = http.StatusConflict
	case errors.Is(err, appErrors.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, appErrors.ErrRelayUnverified):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		c.Logger.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
