package model

import "time"

// Tracking event types recorded from verified tokens.
const (
	EventOpen        = "open"
	EventClick       = "click"
	EventUnsubscribe = "unsubscribe"
)

// TrackingEvent correlates an engagement event back to a campaign and
// recipient without storing the recipient address, only its one-way hash.
type TrackingEvent struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	OwnerID    int       `db:"owner_id" json:"owner_id"`
	EmailHash  string    `db:"email_hash" json:"email_hash"`
	EventType  string    `db:"event_type" json:"event_type"`
	URL        string    `db:"url" json:"url,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
