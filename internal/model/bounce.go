package model

import "time"

// BounceRecord is upserted keyed by (owner, email): at most one live record
// per recipient per owner, the newest bounce overwriting the old one.
type BounceRecord struct {
	ID      int `db:"id" json:"id"`
	OwnerID int `db:"owner_id" json:"owner_id"`
	// Email is empty for suppressions learned from tracking tokens, which
	// only ever carry the address hash.
	Email         string     `db:"email" json:"email,omitempty"`
	EmailHash     string     `db:"email_hash" json:"email_hash"`
	Kind          string     `db:"kind" json:"kind"` // hard or soft
	Reason        string     `db:"reason" json:"reason"`
	CampaignID    *int       `db:"campaign_id" json:"campaign_id,omitempty"`
	LastBouncedAt time.Time  `db:"last_bounced_at" json:"last_bounced_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
