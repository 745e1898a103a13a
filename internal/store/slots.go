package store

import (
	"database/sql"
	"errors"

	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

const slotColumns = "id, tape_request_id, pid, host, request_dir"

func scanSlot(row interface{ Scan(...interface{}) error }) (*models.Slot, error) {
	var sl models.Slot
	if err := row.Scan(&sl.ID, &sl.TapeRequestID, &sl.PID, &sl.Host, &sl.RequestDir); err != nil {
		return nil, err
	}
	return &sl, nil
}

// GetSlotByID returns the Slot with the given id.
func (s *Store) GetSlotByID(id int64) (*models.Slot, error) {
	row := s.db.QueryRow(`SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return sl, err
}

// ListSlots returns every slot in the pool, ordered by id ascending,
// the order the Scheduler assigns into.
func (s *Store) ListSlots() ([]*models.Slot, error) {
	rows, err := s.db.Query(`SELECT ` + slotColumns + ` FROM slots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlotRows(rows)
}

// ListOccupiedSlots returns every slot currently holding a request.
func (s *Store) ListOccupiedSlots() ([]*models.Slot, error) {
	rows, err := s.db.Query(`SELECT ` + slotColumns + ` FROM slots WHERE tape_request_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlotRows(rows)
}

// CountSlots returns the current size of the slot pool.
func (s *Store) CountSlots() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM slots`).Scan(&n)
	return n, err
}

// CreateSlot appends one empty slot to the pool, used by adjust_slots
// when growing STORAGED_SLOTS.
func (s *Store) CreateSlot() (*models.Slot, error) {
	result, err := s.db.Exec(`INSERT INTO slots (tape_request_id) VALUES (NULL)`)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Slot{ID: id}, nil
}

// DeleteEmptySlot removes an unoccupied slot, used by adjust_slots when
// shrinking the pool. It is a no-op (returns nlaerr.ErrInvalidStage) if
// the slot is occupied.
func (s *Store) DeleteEmptySlot(id int64) error {
	result, err := s.db.Exec(`DELETE FROM slots WHERE id = ? AND tape_request_id IS NULL`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nlaerr.ErrInvalidStage
	}
	return nil
}

// AssignSlot places requestID into slot id, the Scheduler's
// load_slots assignment step. pid/host/request_dir stay null until the
// Executor actually starts the subprocess.
func (s *Store) AssignSlot(id, requestID int64) error {
	_, err := s.db.Exec(`UPDATE slots SET tape_request_id = ? WHERE id = ?`, requestID, id)
	return err
}

// StartSlot records that retrieval has begun for the slot's assigned
// request: pid, host and request_dir all become set together, per the
// Slot invariant.
func (s *Store) StartSlot(id int64, pid int, host, requestDir string) error {
	_, err := s.db.Exec(
		`UPDATE slots SET pid = ?, host = ?, request_dir = ? WHERE id = ?`,
		pid, host, requestDir, id,
	)
	return err
}

// FreeSlot clears a slot back to terminal state: no request, no
// process fields.
func (s *Store) FreeSlot(id int64) error {
	_, err := s.db.Exec(
		`UPDATE slots SET tape_request_id = NULL, pid = NULL, host = NULL, request_dir = NULL WHERE id = ?`,
		id,
	)
	return err
}

// CountOccupiedSlotsForUser counts slots whose assigned request belongs
// to a quota owned by user, enforcing the per-user concurrency cap at
// assignment time.
func (s *Store) CountOccupiedSlotsForUser(user string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM slots sl
		JOIN tape_requests tr ON tr.id = sl.tape_request_id
		JOIN quotas q ON q.id = tr.quota_id
		WHERE q.user = ?
	`, user).Scan(&n)
	return n, err
}

func scanSlotRows(rows *sql.Rows) ([]*models.Slot, error) {
	var slots []*models.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}
