package model

import "time"

// Recipient statuses. A recipient leaves pending exactly once; the batch
// loop's idempotence depends on no row ever being re-processed after that.
const (
	RecipientPending   = "pending"
	RecipientSent      = "sent"
	RecipientFailed    = "failed"
	RecipientCancelled = "cancelled"
)

type CampaignRecipient struct {
	ID         int    `db:"id" json:"id"`
	CampaignID int    `db:"campaign_id" json:"campaign_id"`
	Email      string `db:"email" json:"email"`
	// Variables holds arbitrary key-value pairs for personalization,
	// stored as a JSON column.
	Variables     map[string]string `db:"variables" json:"variables,omitempty"`
	Status        string            `db:"status" json:"status"`
	SortOrder     int               `db:"sort_order" json:"sort_order"`
	TrackingToken string            `db:"tracking_token" json:"tracking_token,omitempty"`
	ErrorMessage  string            `db:"error_message" json:"error_message,omitempty"`
	SentAt        *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt      *time.Time        `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}
