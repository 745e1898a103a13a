package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cedadev/nla-control-go/internal/auth"
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

func newTestServer(t *testing.T) (*Server, *store.Store, *auth.Service) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	authSvc := auth.NewService(db, "test-secret", 24)
	logger, err := logging.NewLogger("error", "text", "")
	if err != nil {
		t.Fatalf("logging.NewLogger failed: %v", err)
	}
	s := NewServer(db, st, nil, authSvc, logger, nil)
	return s, st, authSvc
}

func mustCreateAdminToken(t *testing.T, authSvc *auth.Service) string {
	// The migrations already seed a user named "admin", so the test
	// admin gets a name of its own.
	if _, err := authSvc.CreateUser("apiadmin", "password123", models.RoleAdmin); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	token, _, err := authSvc.Login("apiadmin", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return token
}

func doRequest(s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestsRequireAuth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/requests", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateAndGetRequest(t *testing.T) {
	s, st, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	if _, err := st.CreateQuota("alice", 1_000_000, nil, nil); err != nil {
		t.Fatalf("CreateQuota failed: %v", err)
	}
	if _, err := st.InsertTapeFileAtStage("/badc/faam/2020/flight01.nc", 500, models.StageOnTape); err != nil {
		t.Fatalf("InsertTapeFileAtStage failed: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/api/v1/requests", token, map[string]interface{}{
		"quota": "alice",
		"files": "/badc/faam/2020/flight01.nc",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.TapeRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	getRec := doRequest(s, http.MethodGet, "/api/v1/requests/"+itoa(created.ID), token, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var detail requestDetail
	if err := json.Unmarshal(getRec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(detail.Files) != 1 || detail.Files[0].LogicalPath != "/badc/faam/2020/flight01.nc" {
		t.Fatalf("expected the matched file resolved, got %+v", detail.Files)
	}
}

func TestCreateRequestRejectedOverQuota(t *testing.T) {
	s, st, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	if _, err := st.CreateQuota("bob", 100, nil, nil); err != nil {
		t.Fatalf("CreateQuota failed: %v", err)
	}
	if _, err := st.InsertTapeFileAtStage("/badc/faam/2020/big.nc", 1_000, models.StageOnTape); err != nil {
		t.Fatalf("InsertTapeFileAtStage failed: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/api/v1/requests", token, map[string]interface{}{
		"quota": "bob",
		"files": "/badc/faam/2020/big.nc",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateRequestFallsBackToQuotaEmailOnEmptyString(t *testing.T) {
	s, st, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	email := "quota-owner@example.com"
	quota, err := st.CreateQuota("carol", 1_000_000, &email, nil)
	if err != nil {
		t.Fatalf("CreateQuota failed: %v", err)
	}
	override := "override@example.com"
	req, err := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: quota.ID, NotifyFirst: &override})
	if err != nil {
		t.Fatalf("CreateTapeRequest failed: %v", err)
	}

	empty := ""
	rec := doRequest(s, http.MethodPut, "/api/v1/requests/"+itoa(req.ID), token, map[string]interface{}{
		"notify_on_first_file": &empty,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.TapeRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if updated.NotifyFirst == nil || *updated.NotifyFirst != email {
		t.Fatalf("expected notify_first to fall back to quota email, got %+v", updated.NotifyFirst)
	}
}

func TestGetQuotaReturnsUsageAndRequests(t *testing.T) {
	s, st, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	quota, err := st.CreateQuota("dana", 1_000_000, nil, nil)
	if err != nil {
		t.Fatalf("CreateQuota failed: %v", err)
	}
	if _, err := st.CreateTapeRequest(store.CreateTapeRequestParams{QuotaID: quota.ID}); err != nil {
		t.Fatalf("CreateTapeRequest failed: %v", err)
	}

	rec := doRequest(s, http.MethodGet, "/api/v1/quota/dana", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail quotaDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(detail.Requests) != 1 {
		t.Fatalf("expected one request under the quota, got %d", len(detail.Requests))
	}
}

func TestListFilesFiltersByStage(t *testing.T) {
	s, st, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	if _, err := st.InsertTapeFileAtStage("/a/on-tape.nc", 10, models.StageOnTape); err != nil {
		t.Fatalf("InsertTapeFileAtStage failed: %v", err)
	}
	if _, err := st.InsertTapeFileAtStage("/a/on-disk.nc", 10, models.StageOnDisk); err != nil {
		t.Fatalf("InsertTapeFileAtStage failed: %v", err)
	}

	rec := doRequest(s, http.MethodGet, "/api/v1/files?stages=T", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var files []models.TapeFile
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(files) != 1 || files[0].LogicalPath != "/a/on-tape.nc" {
		t.Fatalf("expected only the ONTAPE file, got %+v", files)
	}
}

func TestUnverifiedSpotsIsPlainText(t *testing.T) {
	s, _, authSvc := newTestServer(t)
	token := mustCreateAdminToken(t, authSvc)

	rec := doRequest(s, http.MethodGet, "/unverifiedspots", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("expected text/plain, got %s", ct)
	}
}

func TestQuotaCreationIsAdminOnly(t *testing.T) {
	s, _, authSvc := newTestServer(t)
	if _, err := authSvc.CreateUser("operator1", "password123", models.RoleOperator); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	token, _, err := authSvc.Login("operator1", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/api/v1/quota/", token, map[string]interface{}{
		"user": "eve", "size_bytes": 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin quota creation, got %d: %s", rec.Code, rec.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
