package model

import "time"

// Campaign statuses. Terminal statuses (completed, stopped, error) are
// one-way: no transition leaves them.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

// Terminal reports whether a campaign status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	OwnerID         int        `db:"owner_id" json:"owner_id"`
	Name            string     `db:"name" json:"name"`
	Status          string     `db:"status" json:"status"`
	Subject         string     `db:"subject" json:"subject"`
	BodyHTML        string     `db:"body_html" json:"body_html"`
	BodyText        string     `db:"body_text" json:"body_text"`
	FromEmail       string     `db:"from_email" json:"from_email"`
	FromName        string     `db:"from_name" json:"from_name"`
	TotalCount      int        `db:"total_count" json:"total_count"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	MinDelayMs      int        `db:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs      int        `db:"max_delay_ms" json:"max_delay_ms"`
	TrackingEnabled bool       `db:"tracking_enabled" json:"tracking_enabled"`
	NextEmailAt     *time.Time `db:"next_email_at" json:"next_email_at,omitempty"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`

	// RelayCredentials is only populated in degraded mode, when the
	// fast-path credential stash is unreachable at start/resume time.
	// Erased on every terminal transition.
	RelayCredentials    string `db:"relay_credentials" json:"-"`
	CredentialsDegraded bool   `db:"credentials_degraded" json:"-"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	PausedAt    *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
