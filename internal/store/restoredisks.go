package store

import (
	"database/sql"
	"errors"

	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

const restoreDiskColumns = "id, mountpoint, allocated_bytes, used_bytes"

func scanRestoreDisk(row interface{ Scan(...interface{}) error }) (*models.RestoreDisk, error) {
	var rd models.RestoreDisk
	if err := row.Scan(&rd.ID, &rd.Mountpoint, &rd.AllocatedBytes, &rd.UsedBytes); err != nil {
		return nil, err
	}
	return &rd, nil
}

// GetRestoreDiskByID returns the RestoreDisk with the given id.
func (s *Store) GetRestoreDiskByID(id int64) (*models.RestoreDisk, error) {
	row := s.db.QueryRow(`SELECT `+restoreDiskColumns+` FROM restore_disks WHERE id = ?`, id)
	rd, err := scanRestoreDisk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return rd, err
}

// ListRestoreDisks returns every managed restore disk, ordered by id.
func (s *Store) ListRestoreDisks() ([]*models.RestoreDisk, error) {
	rows, err := s.db.Query(`SELECT ` + restoreDiskColumns + ` FROM restore_disks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disks []*models.RestoreDisk
	for rows.Next() {
		rd, err := scanRestoreDisk(rows)
		if err != nil {
			return nil, err
		}
		disks = append(disks, rd)
	}
	return disks, rows.Err()
}

// CreateRestoreDisk registers a new restore disk.
func (s *Store) CreateRestoreDisk(mountpoint string, allocatedBytes int64) (*models.RestoreDisk, error) {
	result, err := s.db.Exec(
		`INSERT INTO restore_disks (mountpoint, allocated_bytes, used_bytes) VALUES (?, ?, 0)`,
		mountpoint, allocatedBytes,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.RestoreDisk{ID: id, Mountpoint: mountpoint, AllocatedBytes: allocatedBytes}, nil
}

// SetRestoreDiskUsedBytes overwrites a disk's used_bytes counter. The
// Disk Allocator calls this after recomputing actual usage from the
// files currently assigned to the disk (recompute_used).
func (s *Store) SetRestoreDiskUsedBytes(id int64, usedBytes int64) error {
	_, err := s.db.Exec(`UPDATE restore_disks SET used_bytes = ? WHERE id = ?`, usedBytes, id)
	return err
}

// SumTapeFileSizesByRestoreDisk returns the sum of sizes of every
// TapeFile currently assigned to restoreDiskID with stage RESTORED.
// Files still RESTORING don't occupy their final footprint yet, so
// they are excluded; their expected space is accounted separately by
// the Allocator's ResidualBytes.
func (s *Store) SumTapeFileSizesByRestoreDisk(restoreDiskID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(size) FROM tape_files WHERE restore_disk = ? AND stage = ?`,
		restoreDiskID, models.StageRestored,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
