package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

func scanTapeFile(row interface{ Scan(...interface{}) error }) (*models.TapeFile, error) {
	var f models.TapeFile
	if err := row.Scan(&f.ID, &f.LogicalPath, &f.Size, &f.VerifiedAt, &f.Stage, &f.RestoreDisk); err != nil {
		return nil, err
	}
	return &f, nil
}

const tapeFileColumns = "id, logical_path, size, verified_at, stage, restore_disk"

// GetTapeFileByID returns the TapeFile with the given id.
func (s *Store) GetTapeFileByID(id int64) (*models.TapeFile, error) {
	row := s.db.QueryRow(`SELECT `+tapeFileColumns+` FROM tape_files WHERE id = ?`, id)
	f, err := scanTapeFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return f, err
}

// GetTapeFileByLogicalPath returns the TapeFile registered at path.
func (s *Store) GetTapeFileByLogicalPath(path string) (*models.TapeFile, error) {
	row := s.db.QueryRow(`SELECT `+tapeFileColumns+` FROM tape_files WHERE logical_path = ?`, path)
	f, err := scanTapeFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nlaerr.ErrNotFound
	}
	return f, err
}

// AddTapeFile idempotently registers a file at UNVERIFIED: if
// logical_path already exists, its row is returned unchanged. This is
// the insertion path for both ingestion intake and the reconciler's
// "re-add-missing-on-tape" repair (the latter inserts directly at
// ONTAPE via InsertTapeFileAtStage).
func (s *Store) AddTapeFile(logicalPath string, size int64) (*models.TapeFile, error) {
	if existing, err := s.GetTapeFileByLogicalPath(logicalPath); err == nil {
		return existing, nil
	} else if !errors.Is(err, nlaerr.ErrNotFound) {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO tape_files (logical_path, size, stage) VALUES (?, ?, ?)`,
		logicalPath, size, models.StageUnverified,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.TapeFile{ID: id, LogicalPath: logicalPath, Size: size, Stage: models.StageUnverified}, nil
}

// InsertTapeFileAtStage inserts a new TapeFile directly at stage,
// skipping UNVERIFIED. Used by the reconciler when re-discovering files
// already confirmed present on tape via sd_ls.
func (s *Store) InsertTapeFileAtStage(logicalPath string, size int64, stage models.Stage) (*models.TapeFile, error) {
	result, err := s.db.Exec(
		`INSERT INTO tape_files (logical_path, size, stage) VALUES (?, ?, ?)
		 ON CONFLICT(logical_path) DO NOTHING`,
		logicalPath, size, stage,
	)
	if err != nil {
		return nil, err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return s.GetTapeFileByLogicalPath(logicalPath)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.TapeFile{ID: id, LogicalPath: logicalPath, Size: size, Stage: stage}, nil
}

// SetTapeFileStage sets a TapeFile's stage without touching restore_disk or
// verified_at. Use the more specific setters below when those must move
// together, to preserve the stage/restore_disk invariant.
func (s *Store) SetTapeFileStage(id int64, stage models.Stage) error {
	_, err := s.db.Exec(`UPDATE tape_files SET stage = ? WHERE id = ?`, stage, id)
	return err
}

// SetRestoring moves a file to RESTORING and assigns its restore disk,
// atomically, per the invariant that restore_disk is set iff stage is
// RESTORING or RESTORED.
func (s *Store) SetRestoring(id int64, restoreDiskID int64) error {
	_, err := s.db.Exec(
		`UPDATE tape_files SET stage = ?, restore_disk = ? WHERE id = ?`,
		models.StageRestoring, restoreDiskID, id,
	)
	return err
}

// SetRestored moves a file to RESTORED, keeping its existing
// restore_disk, and stamps verified_at if it was not already set.
func (s *Store) SetRestored(id int64) error {
	_, err := s.db.Exec(
		`UPDATE tape_files SET stage = ?, verified_at = COALESCE(verified_at, CURRENT_TIMESTAMP) WHERE id = ?`,
		models.StageRestored, id,
	)
	return err
}

// DemoteToOnTape moves a file back to ONTAPE and clears restore_disk,
// preserving the invariant. Used by redo_request and most reconciler
// repairs.
func (s *Store) DemoteToOnTape(id int64) error {
	_, err := s.db.Exec(
		`UPDATE tape_files SET stage = ?, restore_disk = NULL WHERE id = ?`,
		models.StageOnTape, id,
	)
	return err
}

// PromoteToOnDisk moves an UNVERIFIED file to ONDISK, stamping
// verified_at. The Verifier is the only caller.
func (s *Store) PromoteToOnDisk(id int64, verifiedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tape_files SET stage = ?, verified_at = ? WHERE id = ?`,
		models.StageOnDisk, verifiedAt, id,
	)
	return err
}

// ResetToUnverified clears verified_at/restore_disk and sets stage back
// to UNVERIFIED. Used by Tidy when a real (non-symlink) file is found
// newer than its last verification, and by the reconciler's
// real-file-at-ONTAPE repair.
func (s *Store) ResetToUnverified(id int64) error {
	_, err := s.db.Exec(
		`UPDATE tape_files SET stage = ?, verified_at = NULL, restore_disk = NULL WHERE id = ?`,
		models.StageUnverified, id,
	)
	return err
}

// SetLogicalPath overwrites a TapeFile's logical_path, used by the
// spot-path mis-registered repair.
func (s *Store) SetLogicalPath(id int64, newPath string) error {
	_, err := s.db.Exec(`UPDATE tape_files SET logical_path = ? WHERE id = ?`, newPath, id)
	return err
}

// DeleteTapeFile permanently removes a TapeFile row.
func (s *Store) DeleteTapeFile(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tape_files WHERE id = ?`, id)
	return err
}

// ListTapeFilesByStage returns every TapeFile currently in stage.
func (s *Store) ListTapeFilesByStage(stage models.Stage) ([]*models.TapeFile, error) {
	rows, err := s.db.Query(`SELECT `+tapeFileColumns+` FROM tape_files WHERE stage = ? ORDER BY id`, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeFileRows(rows)
}

// ListTapeFilesByLogicalPaths returns TapeFiles whose logical_path is in
// paths and whose stage is in stages (stages empty means any stage).
// Callers with more than ChunkSize paths must use store.Chunk.
func (s *Store) ListTapeFilesByLogicalPaths(paths []string, stages []models.Stage) ([]*models.TapeFile, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM tape_files WHERE logical_path IN (%s)`, tapeFileColumns, placeholders(len(paths)))
	args := toAnySlice(paths)
	if len(stages) > 0 {
		query += fmt.Sprintf(` AND stage IN (%s)`, placeholders(len(stages)))
		for _, st := range stages {
			args = append(args, st)
		}
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTapeFileRows(rows)
}

// ListTapeFilesByPatternAndStages returns TapeFiles whose logical_path
// contains any of patterns (SQL LIKE substring match) and whose stage is
// in stages.
func (s *Store) ListTapeFilesByPatternAndStages(patterns []string, stages []models.Stage) ([]*models.TapeFile, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	stageClause := ""
	args := []interface{}{}
	if len(stages) > 0 {
		stageClause = fmt.Sprintf(" AND stage IN (%s)", placeholders(len(stages)))
	}

	var matches []*models.TapeFile
	seen := make(map[int64]struct{})
	for _, p := range patterns {
		query := fmt.Sprintf(`SELECT %s FROM tape_files WHERE logical_path LIKE ?%s`, tapeFileColumns, stageClause)
		queryArgs := append([]interface{}{"%" + p + "%"}, args...)
		for _, st := range stages {
			queryArgs = append(queryArgs, st)
		}
		rows, err := s.db.Query(query, queryArgs...)
		if err != nil {
			return nil, err
		}
		files, err := scanTapeFileRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			matches = append(matches, f)
		}
	}
	return matches, nil
}

func scanTapeFileRows(rows *sql.Rows) ([]*models.TapeFile, error) {
	var files []*models.TapeFile
	for rows.Next() {
		f, err := scanTapeFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
