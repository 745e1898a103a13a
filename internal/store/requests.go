package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

const tapeRequestColumns = `id, label, quota_id, retention_at, request_date, active,
	request_files, request_patterns, notify_first, notify_last,
	storaged_start, storaged_end, first_on_disk, last_on_disk`

func scanTapeRequest(row interface{ Scan(...interface{}) error }) (*models.TapeRequest, error) {
	var r models.TapeRequest
	if err := row.Scan(
		&r.ID, &r.Label, &r.QuotaID, &r.RetentionAt, &r.RequestDate, &r.Active,
		&r.RequestFiles, &r.RequestPatterns, &r.NotifyFirst, &r.NotifyLast,
		&r.StoragedStart, &r.StoragedEnd, &r.FirstOnDisk, &r.LastOnDisk,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetTapeRequestByID returns the TapeRequest with the given id.
func (s *Store) GetTapeRequestByID(id int64) (*models.TapeRequest, error) {
	row := s.db.QueryRow(`SELECT `+tapeRequestColumns+` FROM tape_requests WHERE id = ?`, id)
	r, err := scanTapeRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return r, err
}

// ListTapeRequests returns every request ordered by request_date
// ascending, the order update_requests and the Scheduler both rely on.
func (s *Store) ListTapeRequests() ([]*models.TapeRequest, error) {
	rows, err := s.db.Query(`SELECT ` + tapeRequestColumns + ` FROM tape_requests ORDER BY request_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeRequestRows(rows)
}

// ListActiveTapeRequests returns active requests ordered by
// request_date ascending (FCFS, per the Scheduler's assignment rule).
func (s *Store) ListActiveTapeRequests() ([]*models.TapeRequest, error) {
	rows, err := s.db.Query(`SELECT ` + tapeRequestColumns + ` FROM tape_requests WHERE active = 1 ORDER BY request_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeRequestRows(rows)
}

// ListExpiredTapeRequests returns requests whose retention_at has
// passed as of now, the Tidy loop's working set.
func (s *Store) ListExpiredTapeRequests(now time.Time) ([]*models.TapeRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+tapeRequestColumns+` FROM tape_requests WHERE retention_at IS NOT NULL AND retention_at < ? ORDER BY id`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeRequestRows(rows)
}

// ListTapeRequestsByQuota returns every request under quotaID.
func (s *Store) ListTapeRequestsByQuota(quotaID int64) ([]*models.TapeRequest, error) {
	rows, err := s.db.Query(`SELECT `+tapeRequestColumns+` FROM tape_requests WHERE quota_id = ? ORDER BY request_date ASC`, quotaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeRequestRows(rows)
}

func scanTapeRequestRows(rows *sql.Rows) ([]*models.TapeRequest, error) {
	var requests []*models.TapeRequest
	for rows.Next() {
		r, err := scanTapeRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// CreateTapeRequestParams bundles POST /api/v1/requests's optional
// fields so CreateTapeRequest doesn't grow an unreadable positional
// signature.
type CreateTapeRequestParams struct {
	Label           *string
	QuotaID         int64
	RetentionAt     *time.Time
	RequestFiles    string
	RequestPatterns string
	NotifyFirst     *string
	NotifyLast      *string
}

// CreateTapeRequest inserts a new, inactive TapeRequest; update_requests
// activates it on its next run once files resolve.
func (s *Store) CreateTapeRequest(p CreateTapeRequestParams) (*models.TapeRequest, error) {
	result, err := s.db.Exec(
		`INSERT INTO tape_requests (label, quota_id, retention_at, request_files, request_patterns, notify_first, notify_last)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Label, p.QuotaID, p.RetentionAt, p.RequestFiles, p.RequestPatterns, p.NotifyFirst, p.NotifyLast,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetTapeRequestByID(id)
}

// UpdateTapeRequestFields updates the PUT-able fields of a request:
// label, retention and notify addresses.
func (s *Store) UpdateTapeRequestFields(id int64, label *string, retentionAt *time.Time, notifyFirst, notifyLast *string) error {
	_, err := s.db.Exec(
		`UPDATE tape_requests SET label = ?, retention_at = ?, notify_first = ?, notify_last = ? WHERE id = ?`,
		label, retentionAt, notifyFirst, notifyLast, id,
	)
	return err
}

// SetTapeRequestActive flips a request's active flag.
func (s *Store) SetTapeRequestActive(id int64, active bool) error {
	_, err := s.db.Exec(`UPDATE tape_requests SET active = ? WHERE id = ?`, active, id)
	return err
}

// SetStoragedStart stamps storaged_start = now, recording that the
// Executor has begun driving this request's retrieval.
func (s *Store) SetStoragedStart(id int64, when time.Time) error {
	_, err := s.db.Exec(`UPDATE tape_requests SET storaged_start = ? WHERE id = ?`, when, id)
	return err
}

// ClearStoragedStart clears storaged_start, used by reset_stuck_requests.
func (s *Store) ClearStoragedStart(id int64) error {
	_, err := s.db.Exec(`UPDATE tape_requests SET storaged_start = NULL WHERE id = ?`, id)
	return err
}

// RecordFileOnDisk sets first_on_disk if unset and always advances
// last_on_disk to when, per the "file landed" step of complete_request
// / the per-file RESTORED transition.
func (s *Store) RecordFileOnDisk(id int64, when time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tape_requests SET first_on_disk = COALESCE(first_on_disk, ?), last_on_disk = ? WHERE id = ?`,
		when, when, id,
	)
	return err
}

// CompleteTapeRequest sets storaged_end = last_on_disk = now, the
// terminal step of complete_request.
func (s *Store) CompleteTapeRequest(id int64, when time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tape_requests SET storaged_end = ?, last_on_disk = ? WHERE id = ?`,
		when, when, id,
	)
	return err
}

// RedoTapeRequest clears a request's timing fields, for redo_request's
// "park it for rescheduling" step.
func (s *Store) RedoTapeRequest(id int64) error {
	_, err := s.db.Exec(
		`UPDATE tape_requests SET storaged_start = NULL, storaged_end = NULL WHERE id = ?`,
		id,
	)
	return err
}

// DeleteTapeRequest removes a request (and, via ON DELETE CASCADE, its
// tape_request_files membership rows).
func (s *Store) DeleteTapeRequest(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tape_requests WHERE id = ?`, id)
	return err
}

// AddRequestFiles records that the given TapeFile ids are part of
// requestID's resolved file set. Duplicate membership is a no-op.
func (s *Store) AddRequestFiles(requestID int64, fileIDs []int64) error {
	for _, fid := range fileIDs {
		if _, err := s.db.Exec(
			`INSERT INTO tape_request_files (tape_request_id, tape_file_id) VALUES (?, ?)
			 ON CONFLICT(tape_request_id, tape_file_id) DO NOTHING`,
			requestID, fid,
		); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRequestFile drops a single file from a request's resolved set,
// used by Tidy once the file has been evicted.
func (s *Store) RemoveRequestFile(requestID, fileID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM tape_request_files WHERE tape_request_id = ? AND tape_file_id = ?`,
		requestID, fileID,
	)
	return err
}

// RequestFiles returns the TapeFiles currently resolved into requestID.
func (s *Store) RequestFiles(requestID int64) ([]*models.TapeFile, error) {
	rows, err := s.db.Query(`
		SELECT tf.`+tapeFileColumns+`
		FROM tape_request_files trf
		JOIN tape_files tf ON tf.id = trf.tape_file_id
		WHERE trf.tape_request_id = ?
		ORDER BY tf.id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeFileRows(rows)
}

// CountRequestFilesByStage returns how many of requestID's resolved
// files are currently in any of stages.
func (s *Store) CountRequestFilesByStage(requestID int64, stages []models.Stage) (int, error) {
	if len(stages) == 0 {
		return 0, nil
	}
	args := append([]interface{}{requestID}, toAnySlice(stages)...)
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM tape_request_files trf
		JOIN tape_files tf ON tf.id = trf.tape_file_id
		WHERE trf.tape_request_id = ? AND tf.stage IN (`+placeholders(len(stages))+`)
	`, args...).Scan(&count)
	return count, err
}

// RequestsReferencingFile returns the ids of every request (other than
// excludeRequestID, when positive) whose resolved file set includes
// fileID.
func (s *Store) RequestsReferencingFile(fileID int64, excludeRequestID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT tape_request_id FROM tape_request_files WHERE tape_file_id = ? AND tape_request_id != ?`,
		fileID, excludeRequestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
