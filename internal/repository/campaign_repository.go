package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/alihussnain1122/mail-back/internal/errors"
	"github.com/alihussnain1122/mail-back/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	CreateWithRecipients(c *model.Campaign, recipients []*model.CampaignRecipient) error
	GetByID(id int) (*model.Campaign, error)
	GetStatus(id int) (string, error)
	ListByOwner(ownerID, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListRunningIDs() ([]int, error)

	// Lifecycle
	TransitionStatus(id int, to string, from ...string) (bool, error)
	SetError(id int, message string) (bool, error)
	SetNextEmailAt(id int, at *time.Time) error
	IncrementSent(id int) error
	IncrementFailed(id int) error

	// Degraded credential stash
	StashDegradedCredentials(id int, blob string) error
	ClearCredentials(id int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

// CreateWithRecipients inserts a campaign and its full recipient list in
// one transaction. Partial recipient sets are not supported: either the
// whole campaign materializes or nothing does.
func (r *CampaignRepository) CreateWithRecipients(c *model.Campaign, recipients []*model.CampaignRecipient) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusQueued
	}
	c.TotalCount = len(recipients)

	query := `
        INSERT INTO campaigns
            (owner_id, name, status, subject, body_html, body_text,
             from_email, from_name, total_count, min_delay_ms, max_delay_ms,
             tracking_enabled, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id
    `
	err = tx.QueryRow(query,
		c.OwnerID, c.Name, c.Status, c.Subject, c.BodyHTML, c.BodyText,
		c.FromEmail, c.FromName, c.TotalCount, c.MinDelayMs, c.MaxDelayMs,
		c.TrackingEnabled, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return err
	}

	insert := `
        INSERT INTO campaign_recipients
            (campaign_id, email, variables, status, sort_order, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id
    `
	for _, rec := range recipients {
		rec.CampaignID = c.ID
		vars, err := json.Marshal(rec.Variables)
		if err != nil {
			return err
		}
		if rec.Status == "" {
			rec.Status = model.RecipientPending
		}
		if err := tx.QueryRow(insert,
			c.ID, rec.Email, vars, rec.Status, rec.SortOrder, rec.ErrorMessage,
		).Scan(&rec.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `
        SELECT id, owner_id, name, status, subject, body_html, body_text,
               from_email, from_name, total_count, sent_count, failed_count,
               min_delay_ms, max_delay_ms, tracking_enabled, next_email_at,
               error_message, relay_credentials, credentials_degraded,
               created_at, started_at, paused_at, completed_at, updated_at
        FROM campaigns WHERE id=$1
    `
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// GetStatus is the cheap read the batch loop uses between recipients.
func (r *CampaignRepository) GetStatus(id int) (string, error) {
	var status string
	err := r.DB.QueryRow(`SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.NewCampaignNotFound(id)
		}
		return "", err
	}
	return status, nil
}

func (r *CampaignRepository) ListByOwner(ownerID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `
        SELECT id, owner_id, name, status, subject, body_html, body_text,
               from_email, from_name, total_count, sent_count, failed_count,
               min_delay_ms, max_delay_ms, tracking_enabled, next_email_at,
               error_message, relay_credentials, credentials_degraded,
               created_at, started_at, paused_at, completed_at, updated_at
        FROM campaigns WHERE owner_id=$1
    `
	args := []interface{}{ownerID}
	argPos := 2

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE owner_id=$1`
	countArgs := []interface{}{ownerID}
	if status != "" {
		countQuery += ` AND status=$2`
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListRunningIDs feeds the sweep tick that re-advances campaigns whose
// queue tick was lost.
func (r *CampaignRepository) ListRunningIDs() ([]int, error) {
	rows, err := r.DB.Query(`SELECT id FROM campaigns WHERE status=$1`, model.StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ====================== Lifecycle ======================

// TransitionStatus moves a campaign to the target status only if its
// current status is one of from; the guard is what serializes competing
// lifecycle calls at the store level.
func (r *CampaignRepository) TransitionStatus(id int, to string, from ...string) (bool, error) {
	set := `status=$1, updated_at=NOW()`
	switch to {
	case model.StatusRunning:
		set += `, started_at=COALESCE(started_at, NOW()), error_message=''`
	case model.StatusPaused:
		set += `, paused_at=NOW()`
	case model.StatusCompleted, model.StatusStopped, model.StatusError:
		set += `, completed_at=NOW(), next_email_at=NULL`
	}

	query := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id=$2 AND status = ANY($3)`, set)
	res, err := r.DB.Exec(query, to, id, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetError moves a running campaign to the error status and records why.
// Remaining recipients stay pending as durable evidence of what was never
// attempted. Reports whether this call performed the transition; false
// means another lifecycle operation (stop, complete) won the race and its
// side effects stand.
func (r *CampaignRepository) SetError(id int, message string) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, error_message=$2, completed_at=NOW(), next_email_at=NULL, updated_at=NOW()
        WHERE id=$3 AND status=$4
    `
	res, err := r.DB.Exec(query, model.StatusError, truncate(message, 500), id, model.StatusRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CampaignRepository) SetNextEmailAt(id int, at *time.Time) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET next_email_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
	return err
}

func (r *CampaignRepository) IncrementSent(id int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET sent_count=sent_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *CampaignRepository) IncrementFailed(id int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET failed_count=failed_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

// ====================== Degraded credential stash ======================

// StashDegradedCredentials stores relay credentials on the campaign row.
// This is the clearly-labeled degraded mode used only when the fast-path
// store is unreachable; ClearCredentials must run on every terminal
// transition.
func (r *CampaignRepository) StashDegradedCredentials(id int, blob string) error {
	query := `UPDATE campaigns SET relay_credentials=$1, credentials_degraded=TRUE, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, blob, id)
	return err
}

func (r *CampaignRepository) ClearCredentials(id int) error {
	query := `UPDATE campaigns SET relay_credentials='', credentials_degraded=FALSE, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.Exec(query, id)
	return err
}

// ====================== helpers ======================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.Subject, &c.BodyHTML, &c.BodyText,
		&c.FromEmail, &c.FromName, &c.TotalCount, &c.SentCount, &c.FailedCount,
		&c.MinDelayMs, &c.MaxDelayMs, &c.TrackingEnabled, &c.NextEmailAt,
		&c.ErrorMessage, &c.RelayCredentials, &c.CredentialsDegraded,
		&c.CreatedAt, &c.StartedAt, &c.PausedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
