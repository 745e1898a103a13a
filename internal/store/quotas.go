package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

const quotaColumns = "id, user, size_bytes, email_address, notes"

func scanQuota(row interface{ Scan(...interface{}) error }) (*models.Quota, error) {
	var q models.Quota
	if err := row.Scan(&q.ID, &q.User, &q.SizeBytes, &q.EmailAddress, &q.Notes); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuotaByID returns the Quota with the given id.
func (s *Store) GetQuotaByID(id int64) (*models.Quota, error) {
	row := s.db.QueryRow(`SELECT `+quotaColumns+` FROM quotas WHERE id = ?`, id)
	q, err := scanQuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return q, err
}

// GetQuotaByUser returns the Quota belonging to user.
func (s *Store) GetQuotaByUser(user string) (*models.Quota, error) {
	row := s.db.QueryRow(`SELECT `+quotaColumns+` FROM quotas WHERE user = ?`, user)
	q, err := scanQuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return q, err
}

// ListQuotas returns every quota, ordered by user.
func (s *Store) ListQuotas() ([]*models.Quota, error) {
	rows, err := s.db.Query(`SELECT ` + quotaColumns + ` FROM quotas ORDER BY user`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []*models.Quota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, err
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

// CreateQuota registers a new per-user retrieval allowance. If user
// already has a quota, its existing row is returned unchanged.
func (s *Store) CreateQuota(user string, sizeBytes int64, emailAddress, notes *string) (*models.Quota, error) {
	if existing, err := s.GetQuotaByUser(user); err == nil {
		return existing, nil
	} else if !errors.Is(err, nlaerr.ErrNotFound) {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO quotas (user, size_bytes, email_address, notes) VALUES (?, ?, ?, ?)`,
		user, sizeBytes, emailAddress, notes,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Quota{ID: id, User: user, SizeBytes: sizeBytes, EmailAddress: emailAddress, Notes: notes}, nil
}

// UpdateQuota sets a quota's size/email/notes fields.
func (s *Store) UpdateQuota(id int64, sizeBytes int64, emailAddress, notes *string) error {
	_, err := s.db.Exec(
		`UPDATE quotas SET size_bytes = ?, email_address = ?, notes = ? WHERE id = ?`,
		sizeBytes, emailAddress, notes, id,
	)
	return err
}

// UsedBytes sums the size of every TapeFile belonging to requests under
// quotaID whose retention reaches at least asOf. Requests already past
// their retention no longer count against the quota: Tidy is about to
// reclaim their space anyway.
func (s *Store) UsedBytes(quotaID int64, asOf time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`
		SELECT SUM(tf.size)
		FROM tape_request_files trf
		JOIN tape_files tf ON tf.id = trf.tape_file_id
		JOIN tape_requests tr ON tr.id = trf.tape_request_id
		WHERE tr.quota_id = ? AND tr.retention_at IS NOT NULL AND tr.retention_at >= ?
	`, quotaID, asOf).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
