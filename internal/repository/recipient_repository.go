package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/alihussnain1122/mail-back/internal/model"
)

type RecipientRepositoryInterface interface {
	FetchPending(campaignID, limit int) ([]*model.CampaignRecipient, error)
	CountPending(campaignID int) (int, error)
	CountByStatus(campaignID int) (map[string]int, error)
	MarkSent(id int, token string) (bool, error)
	MarkFailed(id int, errMsg string) (bool, error)
	CancelPending(campaignID int) (int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

// FetchPending returns up to limit pending recipients in delivery order.
// sort_order is stable, so repeated invocations walk the list in the same
// sequence no matter when the previous run stopped.
func (r *RecipientRepository) FetchPending(campaignID, limit int) ([]*model.CampaignRecipient, error) {
	query := `
        SELECT id, campaign_id, email, variables, status, sort_order,
               tracking_token, error_message, sent_at, failed_at, created_at
        FROM campaign_recipients
        WHERE campaign_id=$1 AND status=$2
        ORDER BY sort_order ASC
        LIMIT $3
    `
	rows, err := r.DB.Query(query, campaignID, model.RecipientPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.CampaignRecipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) CountPending(campaignID int) (int, error) {
	var count int
	err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 AND status=$2`,
		campaignID, model.RecipientPending,
	).Scan(&count)
	return count, err
}

func (r *RecipientRepository) CountByStatus(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.RecipientPending:   0,
		model.RecipientSent:      0,
		model.RecipientFailed:    0,
		model.RecipientCancelled: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// MarkSent moves a recipient out of pending exactly once. The status guard
// makes the batch loop idempotent under at-least-once delivery: a repeated
// attempt for an already-sent recipient changes nothing and reports false.
func (r *RecipientRepository) MarkSent(id int, token string) (bool, error) {
	query := `
        UPDATE campaign_recipients
        SET status=$1, tracking_token=$2, sent_at=NOW()
        WHERE id=$3 AND status=$4
    `
	res, err := r.DB.Exec(query, model.RecipientSent, token, id, model.RecipientPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RecipientRepository) MarkFailed(id int, errMsg string) (bool, error) {
	query := `
        UPDATE campaign_recipients
        SET status=$1, error_message=$2, failed_at=NOW()
        WHERE id=$3 AND status=$4
    `
	res, err := r.DB.Exec(query, model.RecipientFailed, truncate(errMsg, 500), id, model.RecipientPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelPending marks every remaining pending recipient cancelled; used by
// the stop transition.
func (r *RecipientRepository) CancelPending(campaignID int) (int, error) {
	query := `
        UPDATE campaign_recipients
        SET status=$1
        WHERE campaign_id=$2 AND status=$3
    `
	res, err := r.DB.Exec(query, model.RecipientCancelled, campaignID, model.RecipientPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanRecipient(row rowScanner) (*model.CampaignRecipient, error) {
	var rec model.CampaignRecipient
	var vars []byte
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.Email, &vars, &rec.Status, &rec.SortOrder,
		&rec.TrackingToken, &rec.ErrorMessage, &rec.SentAt, &rec.FailedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &rec.Variables); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
