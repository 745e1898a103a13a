package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cedadev/nla-control-go/internal/database"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/store"
	tape "github.com/cedadev/nla-control-go/internal/tapeclient"
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

func newTestResolver(t *testing.T) *pathresolver.Resolver {
	mux := http.NewServeMux()
	mux.HandleFunc("/download_conf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("spot0001 /badc/faam\n"))
	})
	mux.HandleFunc("/spotlist", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("/datacentre/archvol1/faam spot0001\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := pathresolver.New(srv.URL+"/download_conf", srv.URL+"/spotlist", nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return r
}

func newTestVerifier(t *testing.T, testVersion bool, chksumsDir string) (*Verifier, *store.Store) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	resolver := newTestResolver(t)
	tapeSvc, err := tape.New(tape.Config{SDHost: "storaged1", TestVersion: testVersion}, 4)
	if err != nil {
		t.Fatalf("tape.New failed: %v", err)
	}
	logger, err := logging.NewLogger("error", "text", "")
	if err != nil {
		t.Fatalf("logging.NewLogger failed: %v", err)
	}

	v := New(st, resolver, tapeSvc, logger, nil, Config{ChksumsDir: chksumsDir, TestVersion: testVersion})
	return v, st
}

func TestRunPromotesFileMatchedInChecksumLog(t *testing.T) {
	chksumsDir := t.TempDir()
	v, st := newTestVerifier(t, true, chksumsDir)

	logicalPath := "/badc/faam/2020/flight01.nc"
	if err := os.WriteFile(filepath.Join(chksumsDir, "spot0001.chksums.20200101"), []byte("deadbeef "+logicalPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := st.AddTapeFile(logicalPath, 1024)
	if err != nil {
		t.Fatalf("AddTapeFile failed: %v", err)
	}

	now := time.Now()
	report, err := v.Run(context.Background(), now, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.NumVerified != 1 {
		t.Fatalf("expected 1 verified file, got %d (report=%+v)", report.NumVerified, report)
	}

	got, err := st.GetTapeFileByID(f.ID)
	if err != nil {
		t.Fatalf("GetTapeFileByID failed: %v", err)
	}
	if got.Stage != models.StageOnDisk {
		t.Errorf("expected ONDISK, got %s", got.Stage)
	}
	if got.VerifiedAt == nil {
		t.Errorf("expected verified_at to be set")
	}

	quota, err := st.GetQuotaByUser(models.VerifyQuotaUser)
	if err != nil {
		t.Fatalf("expected _VERIFY quota to be created: %v", err)
	}
	reqs, err := st.ListTapeRequestsByQuota(quota.ID)
	if err != nil {
		t.Fatalf("ListTapeRequestsByQuota failed: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected one synthetic verify request, got %d", len(reqs))
	}
	if reqs[0].RetentionAt == nil || !reqs[0].RetentionAt.After(now) {
		t.Errorf("expected a future retention for a non-verify_now run, got %+v", reqs[0].RetentionAt)
	}
}

func TestRunReportsMissingLogFile(t *testing.T) {
	chksumsDir := t.TempDir()
	v, st := newTestVerifier(t, true, chksumsDir)

	if _, err := st.AddTapeFile("/badc/faam/2020/flight01.nc", 1024); err != nil {
		t.Fatalf("AddTapeFile failed: %v", err)
	}

	report, err := v.Run(context.Background(), time.Now(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.NumVerified != 0 {
		t.Errorf("expected no verified files, got %d", report.NumVerified)
	}
	if len(report.MissingLogFiles) != 1 || report.MissingLogFiles[0] != "spot0001" {
		t.Errorf("expected spot0001 flagged as missing a log file, got %v", report.MissingLogFiles)
	}
}

func TestRunVerifyNowSetsImmediateRetention(t *testing.T) {
	chksumsDir := t.TempDir()
	v, st := newTestVerifier(t, true, chksumsDir)

	logicalPath := "/badc/faam/2020/flight01.nc"
	if err := os.WriteFile(filepath.Join(chksumsDir, "spot0001.chksums.20200101"), []byte("deadbeef "+logicalPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := st.AddTapeFile(logicalPath, 1024); err != nil {
		t.Fatalf("AddTapeFile failed: %v", err)
	}

	now := time.Now()
	if _, err := v.Run(context.Background(), now, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	quota, err := st.GetQuotaByUser(models.VerifyQuotaUser)
	if err != nil {
		t.Fatalf("GetQuotaByUser failed: %v", err)
	}
	reqs, err := st.ListTapeRequestsByQuota(quota.ID)
	if err != nil || len(reqs) != 1 {
		t.Fatalf("expected one synthetic verify request, got %d (err=%v)", len(reqs), err)
	}
	if reqs[0].RetentionAt == nil || reqs[0].RetentionAt.After(now.Add(time.Second)) {
		t.Errorf("expected verify_now retention to be ~now, got %+v", reqs[0].RetentionAt)
	}
}

func TestRunMostRecentLogShadowsOlderMatch(t *testing.T) {
	chksumsDir := t.TempDir()
	v, st := newTestVerifier(t, true, chksumsDir)

	logicalPath := "/badc/faam/2020/flight01.nc"
	oldLog := filepath.Join(chksumsDir, "spot0001.chksums.1")
	newLog := filepath.Join(chksumsDir, "spot0001.chksums.2")
	if err := os.WriteFile(oldLog, []byte("cafebabe /badc/faam/2020/other.nc\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	// Make newLog strictly newer so the mtime-descending sort puts it first.
	if err := os.WriteFile(newLog, []byte("deadbeef "+logicalPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(newLog, future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	if _, err := st.AddTapeFile(logicalPath, 1024); err != nil {
		t.Fatalf("AddTapeFile failed: %v", err)
	}

	report, err := v.Run(context.Background(), time.Now(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.NumVerified != 1 {
		t.Errorf("expected the newer log's match to verify the file, got report=%+v", report)
	}
}
