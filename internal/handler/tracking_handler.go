package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/alihussnain1122/mail-back/internal/model"
	"github.com/alihussnain1122/mail-back/internal/repository"
	"github.com/alihussnain1122/mail-back/internal/token"
)

// transparent 1x1 GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandler serves the engagement endpoints embedded in delivered
// mail. Every endpoint degrades gracefully on an invalid token: tracking
// links live in the wild and get mangled, scanned, and replayed, so a bad
// token is never an error, just an event that does not get recorded.
type TrackingHandler struct {
	Tokens   *token.Codec
	Tracking repository.TrackingRepositoryInterface
	Bounces  repository.BounceRepositoryInterface
	Logger   zerolog.Logger
}

// Open serves the tracking pixel and records an open event.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	if payload, ok := h.Tokens.Verify(chi.URLParam(r, "token")); ok {
		h.record(payload, model.EventOpen, "")
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(pixelGIF)
}

// Click records a click event and redirects to the wrapped URL. The
// destination comes from the u query parameter and must be an absolute
// http(s) URL.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("u")
	if !safeRedirect(dest) {
		http.Error(w, "invalid destination", http.StatusBadRequest)
		return
	}

	if payload, ok := h.Tokens.Verify(chi.URLParam(r, "token")); ok {
		h.record(payload, model.EventClick, dest)
	}

	http.Redirect(w, r, dest, http.StatusFound)
}

// Unsubscribe suppresses the recipient for the owning sender. The token
// only carries the address hash, so the suppression record is hash-keyed;
// future campaigns for this owner skip the address at creation.
func (h *TrackingHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.Tokens.Verify(chi.URLParam(r, "token"))
	if !ok {
		// Same response as success: an invalid token must not reveal
		// whether it ever matched a recipient.
		w.Write([]byte("You have been unsubscribed.\n"))
		return
	}

	campaignID := payload.CampaignID
	err := h.Bounces.Upsert(&model.BounceRecord{
		OwnerID:    payload.OwnerID,
		EmailHash:  payload.EmailHash,
		Kind:       "hard",
		Reason:     "recipient unsubscribed",
		CampaignID: &campaignID,
	})
	if err != nil {
		h.Logger.Error().Err(err).Int("campaign_id", campaignID).Msg("could not record unsubscribe")
		http.Error(w, "try again later", http.StatusInternalServerError)
		return
	}
	h.record(payload, model.EventUnsubscribe, "")

	w.Write([]byte("You have been unsubscribed.\n"))
}

func (h *TrackingHandler) record(payload *token.Payload, eventType, dest string) {
	err := h.Tracking.Insert(&model.TrackingEvent{
		CampaignID: payload.CampaignID,
		OwnerID:    payload.OwnerID,
		EmailHash:  payload.EmailHash,
		EventType:  eventType,
		URL:        dest,
	})
	if err != nil {
		// Tracking is best-effort; the recipient-facing response already
		// committed.
		h.Logger.Warn().Err(err).
			Int("campaign_id", payload.CampaignID).
			Str("event", eventType).
			Msg("could not record tracking event")
	}
}

func safeRedirect(dest string) bool {
	if dest == "" {
		return false
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
