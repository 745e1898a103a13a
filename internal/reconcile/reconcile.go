// Package reconcile implements the "fix problems" repair family and
// the expiry/tidy reclaim loop that repair drift between database
// state and on-disk reality.
// Every exported method is safe to run independently, in any order, on
// an arbitrary state snapshot, and converges to a no-op on a healthy
// store: repeated runs never change state that is already correct.
package reconcile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cedadev/nla-control-go/internal/diskalloc"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/searchindex"
	"github.com/cedadev/nla-control-go/internal/store"
	tape "github.com/cedadev/nla-control-go/internal/tapeclient"
)

// signpostName is the marker symlink Tidy drops in a directory once
// every file in it has been evicted back to tape.
const signpostName = "00FILES_ON_TAPE"

// signpostTarget is the signpost's symlink target. It need not resolve
// to anything real; its name alone tells a human browsing the archive
// why the directory looks empty.
const signpostTarget = "see-archive-docs-files-returned-to-tape"

// Config carries the repair family's tunables.
type Config struct {
	// MinFileSize is the threshold below which re_add_missing_on_tape
	// ignores a tape-resident file, same as the ingestion threshold.
	MinFileSize int64
	// OnTapeURL is the line-delimited "primary on tape" fileset listing
	// consulted by ReAddMissingOnTape; column 3 of each line is a
	// fileset directory, which is resolved to its spot.
	OnTapeURL string
	// TestVersion mirrors TEST_VERSION: tape-side paths equal logical
	// paths verbatim rather than being rewritten under /archive/<spot>.
	TestVersion bool
	// LocalHost is this worker's hostname, used by CheckHappy to decide
	// whether it can check a slot's recorded pid locally.
	LocalHost string
	// StuckGrace is how long a slot may sit with storaged_start set but
	// no pid/host recorded before CheckHappy resets it.
	StuckGrace time.Duration
}

// EventFunc publishes an operator-console event (type, category,
// title, message). A nil EventFunc disables publishing.
type EventFunc func(eventType, category, title, message string)

// Reconciler runs the repair family and Tidy against a Store.
type Reconciler struct {
	store    *store.Store
	resolver *pathresolver.Resolver
	tape     *tape.Service
	alloc    *diskalloc.Allocator
	index    *searchindex.Updater
	logger   *logging.Logger
	events   EventFunc
	cfg      Config
	client   *http.Client
}

// New creates a Reconciler. events, if non-nil, receives a notice
// after each tidy pass.
func New(st *store.Store, resolver *pathresolver.Resolver, tapeSvc *tape.Service, alloc *diskalloc.Allocator, index *searchindex.Updater, logger *logging.Logger, events EventFunc, cfg Config) *Reconciler {
	if cfg.StuckGrace <= 0 {
		cfg.StuckGrace = 60 * time.Second
	}
	return &Reconciler{store: st, resolver: resolver, tape: tapeSvc, alloc: alloc, index: index, logger: logger, events: events, cfg: cfg, client: http.DefaultClient}
}

func (r *Reconciler) publish(title, message string) {
	if r.events != nil {
		r.events("info", "tidy", title, message)
	}
}

// FixProblems runs the whole idempotent repair family. Each step logs
// and continues past its own failures so one bad row never blocks the
// rest of the pass.
func (r *Reconciler) FixProblems(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"clear_stuck_slots", func(context.Context) error { return r.ClearStuckSlots() }},
		{"check_happy", r.CheckHappy},
		{"reset_stuck_restoring", func(context.Context) error { return r.ResetStuckRestoring() }},
		{"reset_stuck_requests", func(context.Context) error { return r.ResetStuckRequests() }},
		{"repair_links", func(context.Context) error { return r.RepairLinks() }},
		{"clean_orphans", r.CleanOrphans},
		{"delete_not_in_request", func(context.Context) error { return r.DeleteNotInRequest(ctx) }},
		{"remove_duplicates", func(context.Context) error { return r.RemoveDuplicates() }},
		{"re_add_missing_on_tape", r.ReAddMissingOnTape},
		{"repair_misregistered_spot_paths", func(context.Context) error { return r.RepairMisregisteredSpotPaths(ctx) }},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			r.logger.WithFields(map[string]interface{}{"step": step.name, "error": err.Error()}).Error("fix_problems step failed", nil)
		}
	}
	return nil
}

// ClearStuckSlots frees any slot that is occupied but never actually
// started retrieval (pid/host/request_dir unset).
func (r *Reconciler) ClearStuckSlots() error {
	occupied, err := r.store.ListOccupiedSlots()
	if err != nil {
		return err
	}
	for _, sl := range occupied {
		if sl.Started() {
			continue
		}
		if err := r.store.FreeSlot(sl.ID); err != nil {
			return err
		}
	}
	return nil
}

// CheckHappy resets slots whose sd_get process has gone away without
// the Executor noticing: either the recorded pid/host is confirmed dead
// locally, or no pid/host was ever recorded and storaged_start is older
// than the configured grace window.
func (r *Reconciler) CheckHappy(ctx context.Context) error {
	occupied, err := r.store.ListOccupiedSlots()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, sl := range occupied {
		requestID := *sl.TapeRequestID
		request, err := r.store.GetTapeRequestByID(requestID)
		if err != nil {
			if nlaerrIsNotFound(err) {
				continue
			}
			return err
		}

		stuck := false
		switch {
		case sl.PID != nil && sl.Host != nil:
			if !tape.ProcessAlive(*sl.PID, *sl.Host, r.cfg.LocalHost) {
				stuck = true
			}
		case request.StoragedStart != nil && now.Sub(*request.StoragedStart) > r.cfg.StuckGrace:
			stuck = true
		}
		if !stuck {
			continue
		}
		if err := r.redoRequest(requestID); err != nil {
			return err
		}
		if err := r.store.FreeSlot(sl.ID); err != nil {
			return err
		}
	}
	return nil
}

// redoRequest resets every still-RESTORING file of requestID back to
// ONTAPE and clears its timing fields, mirroring the Executor's own
// redo_request (executor.redoRequest) for slots the Executor itself
// never gets a chance to finalise.
func (r *Reconciler) redoRequest(requestID int64) error {
	files, err := r.store.RequestFiles(requestID)
	if err != nil {
		return err
	}
	disksTouched := make(map[int64]struct{})
	for _, f := range files {
		if f.Stage != models.StageRestoring {
			continue
		}
		if f.RestoreDisk != nil {
			disksTouched[*f.RestoreDisk] = struct{}{}
		}
		if err := r.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
	}
	for diskID := range disksTouched {
		if err := r.alloc.RecomputeUsed(diskID); err != nil {
			return err
		}
	}
	return r.store.RedoTapeRequest(requestID)
}

// ResetStuckRestoring demotes any RESTORING file whose logical_path
// isn't actually present back to ONTAPE.
func (r *Reconciler) ResetStuckRestoring() error {
	files, err := r.store.ListTapeFilesByStage(models.StageRestoring)
	if err != nil {
		return err
	}
	for _, f := range files {
		if pathExists(f.LogicalPath) {
			continue
		}
		if err := r.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
	}
	return nil
}

// ResetStuckRequests clears storaged_start and deactivates any request
// that claims to be actively retrieving but never completed.
func (r *Reconciler) ResetStuckRequests() error {
	reqs, err := r.store.ListActiveTapeRequests()
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if req.StoragedStart == nil || req.StoragedEnd != nil {
			continue
		}
		if err := r.store.ClearStoragedStart(req.ID); err != nil {
			return err
		}
		if err := r.store.SetTapeRequestActive(req.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// RepairLinks walks files stage by stage and repairs any mismatch
// between the recorded stage and what is actually at logical_path:
// recreating lost symlinks, demoting files whose restored copy is
// gone, and re-entering verification for unexpected real files.
func (r *Reconciler) RepairLinks() error {
	if err := r.repairRestoringOrRestored(); err != nil {
		return err
	}
	if err := r.repairMissingOnDisk(); err != nil {
		return err
	}
	return r.repairOnTape()
}

func (r *Reconciler) repairRestoringOrRestored() error {
	var files []*models.TapeFile
	for _, st := range []models.Stage{models.StageRestoring, models.StageRestored} {
		fs, err := r.store.ListTapeFilesByStage(st)
		if err != nil {
			return err
		}
		files = append(files, fs...)
	}

	for _, f := range files {
		state := linkStateOf(f.LogicalPath)
		if state == linkValid {
			continue
		}

		restorePath, ok := r.restorePathFor(f)
		if ok && realFileExists(restorePath) {
			if state == linkDangling {
				os.Remove(f.LogicalPath)
			}
			if err := os.Symlink(restorePath, f.LogicalPath); err != nil {
				r.logger.WithFields(map[string]interface{}{"file": f.LogicalPath, "error": err.Error()}).Warn("repair_links: symlink failed", nil)
				continue
			}
			if err := r.store.SetRestored(f.ID); err != nil {
				return err
			}
			continue
		}

		if state == linkDangling {
			os.Remove(f.LogicalPath)
		}
		if err := r.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
		if f.RestoreDisk != nil {
			if err := r.alloc.RecomputeUsed(*f.RestoreDisk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) repairMissingOnDisk() error {
	files, err := r.store.ListTapeFilesByStage(models.StageOnDisk)
	if err != nil {
		return err
	}
	for _, f := range files {
		if pathExists(f.LogicalPath) {
			continue
		}
		if err := r.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) repairOnTape() error {
	files, err := r.store.ListTapeFilesByStage(models.StageOnTape)
	if err != nil {
		return err
	}
	for _, f := range files {
		switch linkStateOf(f.LogicalPath) {
		case linkNone:
			// nothing to repair
		case linkDangling:
			os.Remove(f.LogicalPath)
		case linkRealFile:
			if err := r.store.ResetToUnverified(f.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanOrphans walks every restore disk's archive payload tree and
// deletes files that no longer correspond to a file actually expected
// on disk (the DB says ONTAPE and the logical path doesn't exist).
func (r *Reconciler) CleanOrphans(ctx context.Context) error {
	disks, err := r.store.ListRestoreDisks()
	if err != nil {
		return err
	}
	for _, rd := range disks {
		archiveRoot := filepath.Join(rd.Mountpoint, "archive")
		entries, err := os.ReadDir(archiveRoot)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, spotDir := range entries {
			if !spotDir.IsDir() {
				continue
			}
			spot := spotDir.Name()
			prefix, perr := r.resolver.LogicalPrefix(spot)
			if perr != nil {
				continue
			}
			spotRoot := filepath.Join(archiveRoot, spot)
			_ = filepath.WalkDir(spotRoot, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil || d.IsDir() {
					return nil
				}
				rel := strings.TrimPrefix(path, spotRoot)
				logicalPath := prefix + filepath.ToSlash(rel)

				tf, getErr := r.store.GetTapeFileByLogicalPath(logicalPath)
				if getErr != nil {
					return nil
				}
				if tf.Stage != models.StageOnTape {
					return nil
				}
				if pathExists(logicalPath) {
					return nil
				}
				os.Remove(path)
				return nil
			})
		}
	}
	return nil
}

// DeleteNotInRequest evicts any RESTORED/RESTORING file that is no
// longer resolved into any TapeRequest's file set: its payload and link
// are removed and it is demoted to ONTAPE.
func (r *Reconciler) DeleteNotInRequest(ctx context.Context) error {
	files, err := r.store.ListUnreferencedTapeFiles([]models.Stage{models.StageRestored, models.StageRestoring})
	if err != nil {
		return err
	}
	batcher := searchindex.NewBatcher(r.index, searchindex.StatusNotOnDisk)
	disksTouched := make(map[int64]struct{})

	for _, f := range files {
		if restorePath, ok := r.restorePathFor(f); ok {
			os.Remove(restorePath)
		}
		if linkStateOf(f.LogicalPath) != linkNone {
			os.Remove(f.LogicalPath)
		}
		if f.RestoreDisk != nil {
			disksTouched[*f.RestoreDisk] = struct{}{}
		}
		if err := r.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
		batcher.Add(f.LogicalPath)
	}
	for diskID := range disksTouched {
		if err := r.alloc.RecomputeUsed(diskID); err != nil {
			return err
		}
	}
	if err := batcher.Flush(ctx); err != nil {
		r.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("search index update failed", nil)
	}
	return nil
}

// RemoveDuplicates collapses every logical_path that (despite the
// store's uniqueness constraint) has more than one TapeFile row down to
// a single survivor, per the priority rules in duplicates.go.
func (r *Reconciler) RemoveDuplicates() error {
	all, err := r.store.ListAllTapeFiles()
	if err != nil {
		return err
	}
	for path, group := range duplicateGroups(all) {
		if sizesDisagree(group) {
			r.logger.WithFields(map[string]interface{}{"logical_path": path}).Warn("remove_duplicates: duplicate rows report different sizes", nil)
		}
		resolution := resolveDuplicateGroup(group, realFileExists(path))
		for _, id := range resolution.Delete {
			if err := r.store.DeleteTapeFile(id); err != nil {
				return err
			}
		}
		if resolution.KeepStage == models.StageOnTape {
			// Demoting (e.g. a lost RESTORED survivor) must also drop
			// the stale restore_disk assignment.
			if err := r.store.DemoteToOnTape(resolution.Keep); err != nil {
				return err
			}
			continue
		}
		if err := r.store.SetTapeFileStage(resolution.Keep, resolution.KeepStage); err != nil {
			return err
		}
	}
	return nil
}

func sizesDisagree(group []*models.TapeFile) bool {
	for i := 1; i < len(group); i++ {
		if group[i].Size != group[0].Size {
			return true
		}
	}
	return false
}

// ReAddMissingOnTape lists every spot on the "primary on tape" endpoint,
// runs sd_ls against it, and inserts any file bigger than MinFileSize
// that NLA doesn't already know about, directly at ONTAPE.
func (r *Reconciler) ReAddMissingOnTape(ctx context.Context) error {
	if r.cfg.OnTapeURL == "" {
		return nil
	}
	lines, err := fetchLines(ctx, r.client, r.cfg.OnTapeURL)
	if err != nil {
		return fmt.Errorf("%w: fetching on-tape fileset list: %v", nlaerr.ErrConfigurationError, err)
	}

	// The endpoint lists tape-only filesets (column 3 is the fileset's
	// logical directory); map each to its spot and dedupe.
	seen := make(map[string]struct{})
	var spots []string
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		_, spot, err := r.resolver.Resolve(fields[2])
		if err != nil {
			continue
		}
		if _, ok := seen[spot]; ok {
			continue
		}
		seen[spot] = struct{}{}
		spots = append(spots, spot)
	}

	for _, spot := range spots {
		entries, err := r.tape.ListSpot(ctx, spot)
		if err != nil {
			r.logger.WithFields(map[string]interface{}{"spot": spot, "error": err.Error()}).Warn("re_add_missing_on_tape: sd_ls failed, skipping spot", nil)
			continue
		}
		prefix, perr := r.resolver.LogicalPrefix(spot)
		if perr != nil {
			continue
		}
		for tapeSidePath, size := range entries {
			if size < r.cfg.MinFileSize {
				continue
			}
			logicalPath := r.logicalPathFromTapeSide(prefix, spot, tapeSidePath)
			if _, err := r.store.GetTapeFileByLogicalPath(logicalPath); err == nil {
				continue
			} else if !nlaerrIsNotFound(err) {
				return err
			}
			if _, err := r.store.InsertTapeFileAtStage(logicalPath, size, models.StageOnTape); err != nil {
				return err
			}
		}
	}
	return nil
}

// RepairMisregisteredSpotPaths rewrites any UNVERIFIED file whose
// logical_path actually contains a physical storage-volume substring
// (an ingestion mistake) into its proper logical form, but only when
// the corrected path is demonstrably real, present on disk or on tape.
func (r *Reconciler) RepairMisregisteredSpotPaths(ctx context.Context) error {
	files, err := r.store.ListTapeFilesByStage(models.StageUnverified)
	if err != nil {
		return err
	}
	for _, f := range files {
		spot, storagePath, ok := r.resolver.MatchStoragePathSubstring(f.LogicalPath)
		if !ok {
			continue
		}
		prefix, perr := r.resolver.LogicalPrefix(spot)
		if perr != nil {
			continue
		}
		idx := strings.Index(f.LogicalPath, storagePath)
		remainder := f.LogicalPath[idx+len(storagePath):]
		newPath := prefix + remainder

		if newPath == f.LogicalPath {
			continue
		}
		if !r.confirmedOnDiskOrTape(ctx, newPath, spot) {
			continue
		}
		if err := r.store.SetLogicalPath(f.ID, newPath); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) confirmedOnDiskOrTape(ctx context.Context, logicalPath, spot string) bool {
	if pathExists(logicalPath) {
		return true
	}
	entries, err := r.tape.ListSpot(ctx, spot)
	if err != nil {
		return false
	}
	prefix, err := r.resolver.LogicalPrefix(spot)
	if err != nil {
		return false
	}
	tapeSide := r.tapeSidePath(prefix, spot, logicalPath)
	_, present := entries[tapeSide]
	return present
}

// restorePathFor reconstructs the on-disk path a RESTORING/RESTORED
// file's payload lives at: <mountpoint>/archive/<spot>/<relative>.
func (r *Reconciler) restorePathFor(f *models.TapeFile) (string, bool) {
	if f.RestoreDisk == nil {
		return "", false
	}
	rd, err := r.store.GetRestoreDiskByID(*f.RestoreDisk)
	if err != nil {
		return "", false
	}
	prefix, spot, err := r.resolver.Resolve(f.LogicalPath)
	if err != nil {
		return "", false
	}
	rel := f.LogicalPath[len(prefix):]
	return filepath.Join(rd.Mountpoint, "archive", spot, rel), true
}

func (r *Reconciler) tapeSidePath(prefix, spot, logicalPath string) string {
	if r.cfg.TestVersion {
		return logicalPath
	}
	return "/archive/" + spot + logicalPath[len(prefix):]
}

func (r *Reconciler) logicalPathFromTapeSide(prefix, spot, tapeSidePath string) string {
	if r.cfg.TestVersion {
		return tapeSidePath
	}
	rel := strings.TrimPrefix(tapeSidePath, "/archive/"+spot)
	return prefix + rel
}

func nlaerrIsNotFound(err error) bool {
	return errors.Is(err, nlaerr.ErrNotFound)
}

func fetchLines(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

type linkState int

const (
	linkNone linkState = iota
	linkValid
	linkDangling
	linkRealFile
)

func linkStateOf(path string) linkState {
	info, err := os.Lstat(path)
	if err != nil {
		return linkNone
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return linkRealFile
	}
	if _, err := os.Stat(path); err != nil {
		return linkDangling
	}
	return linkValid
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func realFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// TidyRequests evicts every file held by an expired request back to
// tape and deletes the request. now is passed in rather than read from
// time.Now so callers can tidy "as of" a fixed instant and so
// behaviour stays deterministic under test.
func (r *Reconciler) TidyRequests(ctx context.Context, now time.Time) error {
	expired, err := r.store.ListExpiredTapeRequests(now)
	if err != nil {
		return err
	}

	batcher := searchindex.NewBatcher(r.index, searchindex.StatusNotOnDisk)
	signposted := make(map[string]struct{})
	disksTouched := make(map[int64]struct{})

	for _, req := range expired {
		files, err := r.store.RequestFiles(req.ID)
		if err != nil {
			return err
		}

		ids := make([]string, len(files))
		byID := make(map[string]*models.TapeFile, len(files))
		for i, f := range files {
			id := fmt.Sprintf("%d", f.ID)
			ids[i] = id
			byID[id] = f
		}

		err = store.Chunk(ids, store.ChunkSize, func(batch []string) error {
			for _, id := range batch {
				f := byID[id]
				if err := r.tidyOne(ctx, f, req.ID, now, batcher, signposted, disksTouched); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := r.store.DeleteTapeRequest(req.ID); err != nil {
			return err
		}
	}

	for diskID := range disksTouched {
		if err := r.alloc.RecomputeUsed(diskID); err != nil {
			return err
		}
	}
	if err := batcher.Flush(ctx); err != nil {
		r.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("search index update failed", nil)
	}
	if len(expired) > 0 {
		r.publish("tidy pass done", fmt.Sprintf("%d expired request(s) reclaimed", len(expired)))
	}
	return nil
}

// tidyOne decides the fate of a single resolved file of an expiring
// request: drop vanished rows, re-enter verification for rewritten
// real files, skip files other live requests still hold, and evict
// the rest.
func (r *Reconciler) tidyOne(ctx context.Context, f *models.TapeFile, requestID int64, now time.Time, batcher *searchindex.Batcher, signposted map[string]struct{}, disksTouched map[int64]struct{}) error {
	if !pathExists(f.LogicalPath) && f.Stage == models.StageRestored {
		return r.store.DeleteTapeFile(f.ID)
	}

	if lst, err := os.Lstat(f.LogicalPath); err == nil && lst.Mode()&os.ModeSymlink == 0 {
		if f.VerifiedAt == nil || lst.ModTime().After(*f.VerifiedAt) {
			if err := r.store.ResetToUnverified(f.ID); err != nil {
				return err
			}
			return nil
		}
	}

	retentions, err := r.store.RequestRetentionsReferencingFile(f.ID, requestID)
	if err != nil {
		return err
	}
	for _, retention := range retentions {
		if !retention.Valid || !retention.Time.Before(now) {
			// No retention, or still live: some other request still
			// needs this file.
			return nil
		}
	}

	dir := filepath.Dir(f.LogicalPath)
	if _, done := signposted[dir]; !done {
		signpost := filepath.Join(dir, signpostName)
		if !pathExists(signpost) {
			os.Symlink(signpostTarget, signpost)
		}
		signposted[dir] = struct{}{}
	}

	if restorePath, ok := r.restorePathFor(f); ok {
		os.Remove(restorePath)
	}
	os.Remove(f.LogicalPath)

	if f.RestoreDisk != nil {
		disksTouched[*f.RestoreDisk] = struct{}{}
	}
	if err := r.store.DemoteToOnTape(f.ID); err != nil {
		return err
	}
	batcher.Add(f.LogicalPath)
	return nil
}
