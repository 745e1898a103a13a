package searchindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpdateBatchNoopWithoutURL(t *testing.T) {
	u := New("", nil)
	if err := u.UpdateBatch(context.Background(), StatusOnDisk, []string{"/a"}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestUpdateBatchPostsPayload(t *testing.T) {
	var got batchPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := New(srv.URL, nil)
	if err := u.UpdateBatch(context.Background(), StatusNotOnDisk, []string{"/a", "/b"}); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}
	if got.Status != StatusNotOnDisk || len(got.Paths) != 2 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestUpdateBatchReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := New(srv.URL, nil)
	if err := u.UpdateBatch(context.Background(), StatusOnDisk, []string{"/a"}); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestBatcherFlushClearsQueue(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBatcher(New(srv.URL, nil), StatusOnDisk)
	b.Add("/a")
	b.Add("/b")
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one batched call, got %d", calls)
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("second flush should be a no-op, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected flush with empty queue to skip the HTTP call, got %d calls", calls)
	}
}
