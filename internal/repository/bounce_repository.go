package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/alihussnain1122/mail-back/internal/model"
)

type BounceRepositoryInterface interface {
	Upsert(rec *model.BounceRecord) error
	GetByOwnerAndHash(ownerID int, emailHash string) (*model.BounceRecord, error)
	SuppressedHashes(ownerID int, hashes []string) (map[string]bool, error)
	ListByOwner(ownerID, offset, limit int) ([]*model.BounceRecord, error)
}

type BounceRepository struct {
	DB *sql.DB
}

// Upsert keeps at most one live bounce record per (owner, recipient); a
// new bounce overwrites the old reason, kind, and timestamp.
func (r *BounceRepository) Upsert(rec *model.BounceRecord) error {
	query := `
        INSERT INTO bounce_records
            (owner_id, email, email_hash, kind, reason, campaign_id, last_bounced_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        ON CONFLICT (owner_id, email_hash) DO UPDATE
        SET kind=EXCLUDED.kind,
            reason=EXCLUDED.reason,
            campaign_id=EXCLUDED.campaign_id,
            last_bounced_at=NOW(),
            updated_at=NOW()
        RETURNING id
    `
	return r.DB.QueryRow(query,
		rec.OwnerID, rec.Email, rec.EmailHash, rec.Kind,
		truncate(rec.Reason, 500), rec.CampaignID,
	).Scan(&rec.ID)
}

func (r *BounceRepository) GetByOwnerAndHash(ownerID int, emailHash string) (*model.BounceRecord, error) {
	query := `
        SELECT id, owner_id, email, email_hash, kind, reason, campaign_id,
               last_bounced_at, created_at, updated_at
        FROM bounce_records
        WHERE owner_id=$1 AND email_hash=$2
    `
	rec, err := scanBounce(r.DB.QueryRow(query, ownerID, emailHash))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// SuppressedHashes returns which of the given address hashes the owner
// must not send to (hard bounces and unsubscribes). Used during campaign
// creation to cancel suppressed recipients up front.
func (r *BounceRepository) SuppressedHashes(ownerID int, hashes []string) (map[string]bool, error) {
	suppressed := make(map[string]bool)
	if len(hashes) == 0 {
		return suppressed, nil
	}

	query := `
        SELECT email_hash FROM bounce_records
        WHERE owner_id=$1 AND kind=$2 AND email_hash = ANY($3)
    `
	rows, err := r.DB.Query(query, ownerID, "hard", pq.Array(hashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		suppressed[hash] = true
	}
	return suppressed, rows.Err()
}

func (r *BounceRepository) ListByOwner(ownerID, offset, limit int) ([]*model.BounceRecord, error) {
	query := `
        SELECT id, owner_id, email, email_hash, kind, reason, campaign_id,
               last_bounced_at, created_at, updated_at
        FROM bounce_records
        WHERE owner_id=$1
        ORDER BY last_bounced_at DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.DB.Query(query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.BounceRecord{}
	for rows.Next() {
		rec, err := scanBounce(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanBounce(row rowScanner) (*model.BounceRecord, error) {
	var rec model.BounceRecord
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Email, &rec.EmailHash, &rec.Kind, &rec.Reason,
		&rec.CampaignID, &rec.LastBouncedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ BounceRepositoryInterface = (*BounceRepository)(nil)
