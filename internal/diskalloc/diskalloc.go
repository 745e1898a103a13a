// Package diskalloc picks a restore disk with enough free space for a
// request's residual tape-resident files, and keeps each disk's
// used_bytes counter honest against the files actually assigned to it.
package diskalloc

import (
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
	"github.com/cedadev/nla-control-go/internal/store"
)

// Allocator chooses restore disks for requests and recomputes their
// used-byte accounting.
type Allocator struct {
	store *store.Store
}

// New creates an Allocator backed by st.
func New(st *store.Store) *Allocator {
	return &Allocator{store: st}
}

// ChooseDisk iterates restore disks in stable id order and returns the
// first whose free space exceeds residualBytes, the size still
// resident on tape for the request being scheduled. It returns
// nlaerr.ErrNoCapacity if none suffices.
func (a *Allocator) ChooseDisk(residualBytes int64) (*models.RestoreDisk, error) {
	disks, err := a.store.ListRestoreDisks()
	if err != nil {
		return nil, err
	}
	for _, rd := range disks {
		if rd.Free() > residualBytes {
			return rd, nil
		}
	}
	return nil, nlaerr.ErrNoCapacity
}

// ResidualBytes sums the size of a request's files that are still
// ONTAPE, the space ChooseDisk must reserve for them.
func (a *Allocator) ResidualBytes(requestID int64) (int64, error) {
	files, err := a.store.RequestFiles(requestID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		if f.Stage == models.StageOnTape {
			total += f.Size
		}
	}
	return total, nil
}

// RecomputeUsed recalculates restoreDiskID's used_bytes from the files
// actually assigned to it and persists it. Only RESTORED files are
// counted; files still RESTORING are not.
// Call this after any file moves on or off a restore disk.
func (a *Allocator) RecomputeUsed(restoreDiskID int64) error {
	total, err := a.store.SumTapeFileSizesByRestoreDisk(restoreDiskID)
	if err != nil {
		return err
	}
	return a.store.SetRestoreDiskUsedBytes(restoreDiskID, total)
}
