package store

import (
	"database/sql"
	"fmt"

	"github.com/cedadev/nla-control-go/internal/models"
)

// ListAllTapeFiles returns every registered TapeFile, ordered by
// logical_path. Used by reconciliation passes that must group rows by
// path (remove_duplicates) or scan the whole inventory.
func (s *Store) ListAllTapeFiles() ([]*models.TapeFile, error) {
	rows, err := s.db.Query(`SELECT ` + tapeFileColumns + ` FROM tape_files ORDER BY logical_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeFileRows(rows)
}

// ListUnreferencedTapeFiles returns TapeFiles in any of stages that are
// not resolved into any TapeRequest's file set, the working set of the
// delete-not-in-request repair.
func (s *Store) ListUnreferencedTapeFiles(stages []models.Stage) ([]*models.TapeFile, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM tape_files tf
		WHERE tf.stage IN (%s)
		AND NOT EXISTS (SELECT 1 FROM tape_request_files trf WHERE trf.tape_file_id = tf.id)
		ORDER BY tf.id
	`, tapeFileColumns, placeholders(len(stages)))
	rows, err := s.db.Query(query, toAnySlice(stages)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeFileRows(rows)
}

// RequestRetentionsReferencingFile returns the retention_at of every
// other request (excluding excludeRequestID) whose resolved file set
// includes fileID. A nil element means that request has no retention
// (never expires). Used by Tidy's sibling-request skip check.
func (s *Store) RequestRetentionsReferencingFile(fileID, excludeRequestID int64) ([]sql.NullTime, error) {
	rows, err := s.db.Query(`
		SELECT tr.retention_at
		FROM tape_request_files trf
		JOIN tape_requests tr ON tr.id = trf.tape_request_id
		WHERE trf.tape_file_id = ? AND trf.tape_request_id != ?
	`, fileID, excludeRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sql.NullTime
	for rows.Next() {
		var nt sql.NullTime
		if err := rows.Scan(&nt); err != nil {
			return nil, err
		}
		out = append(out, nt)
	}
	return out, rows.Err()
}
