package diskalloc

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cedadev/nla-control-go/internal/database"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
	"github.com/cedadev/nla-control-go/internal/store"
)

func setupTestDB(t *testing.T) *database.DB {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func TestChooseDiskPicksFirstWithEnoughFreeSpace(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	a := New(st)

	small, err := st.CreateRestoreDisk("/mnt/restore1", 10)
	if err != nil {
		t.Fatalf("CreateRestoreDisk failed: %v", err)
	}
	big, err := st.CreateRestoreDisk("/mnt/restore2", 1_000)
	if err != nil {
		t.Fatalf("CreateRestoreDisk failed: %v", err)
	}

	chosen, err := a.ChooseDisk(100)
	if err != nil {
		t.Fatalf("ChooseDisk failed: %v", err)
	}
	if chosen.ID != big.ID {
		t.Errorf("expected disk %d (enough space), got %d", big.ID, chosen.ID)
	}
	_ = small
}

func TestChooseDiskNoCapacity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	a := New(st)

	if _, err := st.CreateRestoreDisk("/mnt/restore1", 10); err != nil {
		t.Fatalf("CreateRestoreDisk failed: %v", err)
	}

	_, err := a.ChooseDisk(1_000_000)
	if !errors.Is(err, nlaerr.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity, got %v", err)
	}
}

func TestResidualBytesOnlyCountsOnTape(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	a := New(st)

	q, _ := st.CreateQuota("leo", 1_000_000, nil, nil)
	r, _ := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/a\n/b"})

	onTape, _ := st.InsertTapeFileAtStage("/a", 300, models.StageOnTape)
	onDisk, _ := st.InsertTapeFileAtStage("/b", 700, models.StageOnDisk)
	if err := st.AddRequestFiles(r.ID, []int64{onTape.ID, onDisk.ID}); err != nil {
		t.Fatalf("AddRequestFiles failed: %v", err)
	}

	residual, err := a.ResidualBytes(r.ID)
	if err != nil {
		t.Fatalf("ResidualBytes failed: %v", err)
	}
	if residual != 300 {
		t.Errorf("expected 300 (only the ONTAPE file), got %d", residual)
	}
}

func TestRecomputeUsedCountsOnlyRestored(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	a := New(st)

	rd, _ := st.CreateRestoreDisk("/mnt/restore1", 1_000_000)
	restoring, _ := st.InsertTapeFileAtStage("/a", 500, models.StageOnTape)
	if err := st.SetRestoring(restoring.ID, rd.ID); err != nil {
		t.Fatalf("SetRestoring failed: %v", err)
	}

	if err := a.RecomputeUsed(rd.ID); err != nil {
		t.Fatalf("RecomputeUsed failed: %v", err)
	}
	got, err := st.GetRestoreDiskByID(rd.ID)
	if err != nil {
		t.Fatalf("GetRestoreDiskByID failed: %v", err)
	}
	if got.UsedBytes != 0 {
		t.Errorf("expected used_bytes=0 while file is only RESTORING, got %d", got.UsedBytes)
	}

	restored, _ := st.InsertTapeFileAtStage("/b", 700, models.StageOnTape)
	if err := st.SetRestoring(restored.ID, rd.ID); err != nil {
		t.Fatalf("SetRestoring failed: %v", err)
	}
	if err := st.SetRestored(restored.ID); err != nil {
		t.Fatalf("SetRestored failed: %v", err)
	}

	if err := a.RecomputeUsed(rd.ID); err != nil {
		t.Fatalf("RecomputeUsed failed: %v", err)
	}
	got, err = st.GetRestoreDiskByID(rd.ID)
	if err != nil {
		t.Fatalf("GetRestoreDiskByID failed: %v", err)
	}
	if got.UsedBytes != 700 {
		t.Errorf("expected used_bytes=700 (only the RESTORED file), got %d", got.UsedBytes)
	}
}
