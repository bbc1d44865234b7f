package repository

import (
	"database/sql"

	"github.com/alihussnain1122/mail-back/internal/model"
)

type TrackingRepositoryInterface interface {
	Insert(ev *model.TrackingEvent) error
	CountByCampaign(campaignID int) (map[string]int, error)
}

type TrackingRepository struct {
	DB *sql.DB
}

func (r *TrackingRepository) Insert(ev *model.TrackingEvent) error {
	query := `
        INSERT INTO tracking_events
            (campaign_id, owner_id, email_hash, event_type, url, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRow(query,
		ev.CampaignID, ev.OwnerID, ev.EmailHash, ev.EventType, ev.URL,
	).Scan(&ev.ID, &ev.CreatedAt)
}

func (r *TrackingRepository) CountByCampaign(campaignID int) (map[string]int, error) {
	query := `SELECT event_type, COUNT(*) FROM tracking_events WHERE campaign_id=$1 GROUP BY event_type`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		model.EventOpen:        0,
		model.EventClick:       0,
		model.EventUnsubscribe: 0,
	}
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

var _ TrackingRepositoryInterface = (*TrackingRepository)(nil)
