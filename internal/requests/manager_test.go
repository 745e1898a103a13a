package requests

import (
	"path/filepath"
	"testing"

	"github.com/cedadev/nla-control-go/internal/database"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
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

func newTestLogger(t *testing.T) *logging.Logger {
	l, err := logging.NewLogger("error", "text", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return l
}

func TestUpdateRequestsCompletesWhenAllFilesResolved(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	m := New(st, newTestLogger(t))

	q, _ := st.CreateQuota("mia", 1_000_000, nil, nil)
	r, _ := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/a\n/b"})

	a, _ := st.InsertTapeFileAtStage("/a", 10, models.StageOnTape)
	b, _ := st.InsertTapeFileAtStage("/b", 10, models.StageOnTape)

	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got, err := st.GetTapeRequestByID(r.ID)
	if err != nil {
		t.Fatalf("GetTapeRequestByID failed: %v", err)
	}
	if !got.Active {
		t.Fatal("expected request to activate once its files resolve to ONTAPE")
	}

	if err := st.SetRestored(a.ID); err != nil {
		t.Fatalf("SetRestored a failed: %v", err)
	}
	if err := st.SetRestored(b.ID); err != nil {
		t.Fatalf("SetRestored b failed: %v", err)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run (2nd pass) failed: %v", err)
	}
	got, err = st.GetTapeRequestByID(r.ID)
	if err != nil {
		t.Fatalf("GetTapeRequestByID failed: %v", err)
	}
	if got.Active {
		t.Fatal("expected request to deactivate once done == needed")
	}
}

func TestUpdateRequestsVerifyQuotaResolvesUnverified(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	m := New(st, newTestLogger(t))

	q, _ := st.CreateQuota(models.VerifyQuotaUser, 0, nil, nil)
	r, _ := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/v1"})

	if _, err := st.AddTapeFile("/v1", 10); err != nil {
		t.Fatalf("AddTapeFile failed: %v", err)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got, err := st.GetTapeRequestByID(r.ID)
	if err != nil {
		t.Fatalf("GetTapeRequestByID failed: %v", err)
	}
	if !got.Active {
		t.Fatal("expected _VERIFY request to activate against the UNVERIFIED file")
	}
}

func TestUpdateRequestsPatternActivatesOnLateIngestion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := store.New(db)
	m := New(st, newTestLogger(t))

	q, _ := st.CreateQuota("noor", 1_000_000, nil, nil)
	r, _ := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: q.ID, RequestPatterns: "/a/b/2025/"})

	if err := m.Run(); err != nil {
		t.Fatalf("Run (no matches yet) failed: %v", err)
	}
	got, err := st.GetTapeRequestByID(r.ID)
	if err != nil {
		t.Fatalf("GetTapeRequestByID failed: %v", err)
	}
	if got.Active {
		t.Fatal("expected request with no matches to stay inactive")
	}

	if _, err := st.InsertTapeFileAtStage("/a/b/2025/x.dat", 10, models.StageOnTape); err != nil {
		t.Fatalf("InsertTapeFileAtStage failed: %v", err)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run (after ingestion) failed: %v", err)
	}
	got, err = st.GetTapeRequestByID(r.ID)
	if err != nil {
		t.Fatalf("GetTapeRequestByID failed: %v", err)
	}
	if !got.Active {
		t.Fatal("expected request to activate once a matching file is ingested")
	}
	files, err := st.RequestFiles(r.ID)
	if err != nil {
		t.Fatalf("RequestFiles failed: %v", err)
	}
	if len(files) != 1 || files[0].LogicalPath != "/a/b/2025/x.dat" {
		t.Fatalf("expected the request to resolve the new file, got %+v", files)
	}
}
