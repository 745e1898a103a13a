// Package requests implements update_requests: re-resolving each
// TapeRequest's pattern or file-list against current tape inventory
// and flipping its active flag accordingly.
package requests

import (
	"strings"

	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/store"
)

// Manager runs update_requests over every stored request.
type Manager struct {
	store  *store.Store
	logger *logging.Logger
}

// New creates a Manager backed by st.
func New(st *store.Store, logger *logging.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// candidateStages is the set of stages a request's file-list/pattern
// resolution may add from, for ordinary (non-_VERIFY) requests.
var candidateStages = []models.Stage{models.StageOnTape, models.StageRestoring}

// Run re-resolves every TapeRequest in request_date order.
func (m *Manager) Run() error {
	reqs, err := m.store.ListTapeRequests()
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := m.updateOne(r); err != nil {
			m.logger.WithFields(map[string]interface{}{"request_id": r.ID, "error": err.Error()}).Error("update_requests failed", nil)
		}
	}
	return nil
}

func (m *Manager) updateOne(r *models.TapeRequest) error {
	quota, err := m.store.GetQuotaByID(r.QuotaID)
	if err != nil {
		return err
	}

	// Step 1: a request with a finite target (request_files) that has
	// already resolved all its files is complete, deactivate and stop.
	if r.RequestFiles != "" {
		needed := len(splitLines(r.RequestFiles))
		done, err := m.store.CountRequestFilesByStage(r.ID, []models.Stage{models.StageOnDisk, models.StageRestored})
		if err != nil {
			return err
		}
		if needed > 0 && done == needed {
			return m.store.SetTapeRequestActive(r.ID, false)
		}
	}

	var newFiles []*models.TapeFile
	switch {
	case quota.User == models.VerifyQuotaUser:
		// Step 2: internal verification requests resolve against
		// UNVERIFIED files named explicitly in request_files.
		paths := splitLines(r.RequestFiles)
		candidates, err := m.store.ListTapeFilesByLogicalPaths(paths, []models.Stage{models.StageUnverified})
		if err != nil {
			return err
		}
		newFiles = m.filterUnresolved(r.ID, candidates)

	case r.RequestFiles != "":
		// Step 3: explicit file list, resolved against ONTAPE/RESTORING.
		paths := splitLines(r.RequestFiles)
		candidates, err := m.store.ListTapeFilesByLogicalPaths(paths, candidateStages)
		if err != nil {
			return err
		}
		newFiles = m.filterUnresolved(r.ID, candidates)

	case r.RequestPatterns != "":
		// Step 4: substring pattern match against ONTAPE/RESTORING.
		patterns := splitLines(r.RequestPatterns)
		candidates, err := m.store.ListTapeFilesByPatternAndStages(patterns, candidateStages)
		if err != nil {
			return err
		}
		newFiles = m.filterUnresolved(r.ID, candidates)
	}

	if len(newFiles) == 0 {
		// Step 5: no matches (yet). Stays inactive, stays in the store
		// for a future ingestion to activate.
		return m.store.SetTapeRequestActive(r.ID, false)
	}

	ids := make([]int64, len(newFiles))
	for i, f := range newFiles {
		ids[i] = f.ID
	}
	if err := m.store.AddRequestFiles(r.ID, ids); err != nil {
		return err
	}
	return m.store.SetTapeRequestActive(r.ID, true)
}

// filterUnresolved drops candidates already in the request's resolved
// set, so activation is driven only by genuinely new matches.
func (m *Manager) filterUnresolved(requestID int64, candidates []*models.TapeFile) []*models.TapeFile {
	if len(candidates) == 0 {
		return nil
	}
	resolved, err := m.store.RequestFiles(requestID)
	if err != nil {
		return candidates
	}
	already := make(map[int64]struct{}, len(resolved))
	for _, f := range resolved {
		already[f.ID] = struct{}{}
	}
	var fresh []*models.TapeFile
	for _, c := range candidates {
		if _, ok := already[c.ID]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
