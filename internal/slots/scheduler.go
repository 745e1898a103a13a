// Package slots sizes the retrieval pool to a configured width and
// assigns active requests into free slots, first-come-first-served,
// under a hard per-user concurrency cap.
package slots

import (
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/store"
)

// Scheduler resizes and loads the slot pool.
type Scheduler struct {
	store           *store.Store
	maxSlotsPerUser int
}

// New creates a Scheduler enforcing maxSlotsPerUser concurrent slots
// per user.
func New(st *store.Store, maxSlotsPerUser int) *Scheduler {
	return &Scheduler{store: st, maxSlotsPerUser: maxSlotsPerUser}
}

// AdjustSlots grows or shrinks the pool to exactly target slots. When
// shrinking, only empty slots (highest id first) are removed; an
// over-target pool with too few empty slots stays over-target until
// enough slots free up naturally.
func (s *Scheduler) AdjustSlots(target int) error {
	all, err := s.store.ListSlots()
	if err != nil {
		return err
	}
	current := len(all)

	if current < target {
		for i := current; i < target; i++ {
			if _, err := s.store.CreateSlot(); err != nil {
				return err
			}
		}
		return nil
	}

	excess := current - target
	for i := len(all) - 1; i >= 0 && excess > 0; i-- {
		if all[i].Occupied() {
			continue
		}
		if err := s.store.DeleteEmptySlot(all[i].ID); err != nil {
			return err
		}
		excess--
	}
	return nil
}

// LoadSlots frees slots whose request has gone inactive, then assigns
// eligible active requests into any slots left empty, in id order.
func (s *Scheduler) LoadSlots() error {
	slots, err := s.store.ListSlots()
	if err != nil {
		return err
	}

	var free []int64
	for _, sl := range slots {
		if !sl.Occupied() {
			free = append(free, sl.ID)
			continue
		}
		r, err := s.store.GetTapeRequestByID(*sl.TapeRequestID)
		if err != nil {
			return err
		}
		if !r.Active {
			if err := s.store.FreeSlot(sl.ID); err != nil {
				return err
			}
			free = append(free, sl.ID)
		}
	}
	if len(free) == 0 {
		return nil
	}

	assignedRequest := make(map[int64]bool)
	for _, sl := range slots {
		if sl.Occupied() {
			assignedRequest[*sl.TapeRequestID] = true
		}
	}

	candidates, err := s.store.ListActiveTapeRequests()
	if err != nil {
		return err
	}

	userSlotCount := make(map[string]int)
	for _, r := range candidates {
		if assignedRequest[r.ID] {
			q, err := s.store.GetQuotaByID(r.QuotaID)
			if err != nil {
				return err
			}
			userSlotCount[q.User]++
		}
	}

	for _, freeID := range free {
		request, err := s.nextEligible(candidates, assignedRequest, userSlotCount)
		if err != nil {
			return err
		}
		if request == nil {
			break
		}
		if err := s.store.AssignSlot(freeID, request.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) nextEligible(candidates []*models.TapeRequest, assigned map[int64]bool, userSlotCount map[string]int) (*models.TapeRequest, error) {
	for _, r := range candidates {
		if assigned[r.ID] {
			continue
		}
		q, err := s.store.GetQuotaByID(r.QuotaID)
		if err != nil {
			return nil, err
		}
		if q.User == models.VerifyQuotaUser {
			continue
		}
		if userSlotCount[q.User] >= s.maxSlotsPerUser {
			continue
		}
		assigned[r.ID] = true
		userSlotCount[q.User]++
		return r, nil
	}
	return nil, nil
}
