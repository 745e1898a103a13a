package store

import (
	"errors"
	"testing"

	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

func TestCreateAndAssignSlot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := New(db)

	sl, err := st.CreateSlot()
	if err != nil {
		t.Fatalf("CreateSlot failed: %v", err)
	}
	if sl.Occupied() {
		t.Error("expected a freshly created slot to be unoccupied")
	}

	q, _ := st.CreateQuota("ivan", 1_000_000, nil, nil)
	r, _ := st.CreateTapeRequest(CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/a"})

	if err := st.AssignSlot(sl.ID, r.ID); err != nil {
		t.Fatalf("AssignSlot failed: %v", err)
	}
	got, err := st.GetSlotByID(sl.ID)
	if err != nil {
		t.Fatalf("GetSlotByID failed: %v", err)
	}
	if !got.Occupied() || got.Started() {
		t.Fatalf("expected occupied-but-not-started slot, got %+v", got)
	}

	if err := st.StartSlot(sl.ID, 4242, "storaged1", "/mnt/restore1/req1"); err != nil {
		t.Fatalf("StartSlot failed: %v", err)
	}
	got, err = st.GetSlotByID(sl.ID)
	if err != nil {
		t.Fatalf("GetSlotByID failed: %v", err)
	}
	if !got.Started() {
		t.Fatalf("expected Started() true once pid/host/request_dir are set, got %+v", got)
	}

	if err := st.FreeSlot(sl.ID); err != nil {
		t.Fatalf("FreeSlot failed: %v", err)
	}
	got, err = st.GetSlotByID(sl.ID)
	if err != nil {
		t.Fatalf("GetSlotByID failed: %v", err)
	}
	if got.Occupied() || got.Started() {
		t.Fatalf("expected terminal slot state after FreeSlot, got %+v", got)
	}
}

func TestDeleteEmptySlotRejectsOccupied(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := New(db)

	sl, _ := st.CreateSlot()
	q, _ := st.CreateQuota("judy", 1_000_000, nil, nil)
	r, _ := st.CreateTapeRequest(CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/a"})
	if err := st.AssignSlot(sl.ID, r.ID); err != nil {
		t.Fatalf("AssignSlot failed: %v", err)
	}

	if err := st.DeleteEmptySlot(sl.ID); err == nil {
		t.Fatal("expected DeleteEmptySlot to fail on an occupied slot")
	} else if !errors.Is(err, nlaerr.ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}

	if err := st.FreeSlot(sl.ID); err != nil {
		t.Fatalf("FreeSlot failed: %v", err)
	}
	if err := st.DeleteEmptySlot(sl.ID); err != nil {
		t.Fatalf("expected DeleteEmptySlot to succeed once freed, got %v", err)
	}
}

func TestCountOccupiedSlotsForUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	st := New(db)

	q, _ := st.CreateQuota("karl", 1_000_000, nil, nil)
	r1, _ := st.CreateTapeRequest(CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/a"})
	r2, _ := st.CreateTapeRequest(CreateTapeRequestParams{QuotaID: q.ID, RequestFiles: "/b"})

	sl1, _ := st.CreateSlot()
	sl2, _ := st.CreateSlot()
	_, _ = st.CreateSlot()

	if err := st.AssignSlot(sl1.ID, r1.ID); err != nil {
		t.Fatalf("AssignSlot sl1 failed: %v", err)
	}
	if err := st.AssignSlot(sl2.ID, r2.ID); err != nil {
		t.Fatalf("AssignSlot sl2 failed: %v", err)
	}

	n, err := st.CountOccupiedSlotsForUser("karl")
	if err != nil {
		t.Fatalf("CountOccupiedSlotsForUser failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 occupied slots for karl, got %d", n)
	}
}
