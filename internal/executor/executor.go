// Package executor drives a loaded slot's retrieval: it selects a
// restore disk, writes the sd_get listing, starts the subprocess,
// tails its log for completed files, and finalises the request once
// retrieval stops.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cedadev/nla-control-go/internal/diskalloc"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
	"github.com/cedadev/nla-control-go/internal/notifications"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/searchindex"
	"github.com/cedadev/nla-control-go/internal/store"
	tape "github.com/cedadev/nla-control-go/internal/tapeclient"
	"github.com/google/uuid"
)

// EventFunc publishes an operator-console event (type, category,
// title, message). A nil EventFunc disables publishing.
type EventFunc func(eventType, category, title, message string)

// Executor drives one slot's retrieval from start to finish.
type Executor struct {
	store     *store.Store
	alloc     *diskalloc.Allocator
	resolver  *pathresolver.Resolver
	tape      *tape.Service
	notifier  *notifications.RequestNotifier
	index     *searchindex.Updater
	logger    *logging.Logger
	events    EventFunc
	localHost string
	testMode  bool
	pollEvery time.Duration
}

// New creates an Executor. localHost is recorded on slots as the
// retrieving host; testMode selects the test log-line pattern and
// leaves tape-side paths unrewritten. index receives a batched
// StatusOnDisk update once per drained log; a nil index
// makes that step a no-op. events, if non-nil, receives retrieval
// started/finished notices for the operator console.
func New(
	st *store.Store,
	alloc *diskalloc.Allocator,
	resolver *pathresolver.Resolver,
	tapeSvc *tape.Service,
	notifier *notifications.RequestNotifier,
	index *searchindex.Updater,
	logger *logging.Logger,
	events EventFunc,
	localHost string,
	testMode bool,
) *Executor {
	return &Executor{
		store:     st,
		alloc:     alloc,
		resolver:  resolver,
		tape:      tapeSvc,
		notifier:  notifier,
		index:     index,
		logger:    logger,
		events:    events,
		localHost: localHost,
		testMode:  testMode,
		pollEvery: 10 * time.Second,
	}
}

func (e *Executor) publish(eventType, title, message string) {
	if e.events != nil {
		e.events(eventType, "retrieval", title, message)
	}
}

// Run drives a single freshly loaded slot to completion. It blocks
// until the request either completes or is parked for a retry, so
// callers run it in its own goroutine per occupied slot.
func (e *Executor) Run(ctx context.Context, slotID int64) error {
	slot, err := e.store.GetSlotByID(slotID)
	if err != nil {
		return err
	}
	if !slot.Occupied() {
		return nil
	}
	requestID := *slot.TapeRequestID

	request, err := e.store.GetTapeRequestByID(requestID)
	if err != nil {
		return err
	}
	quota, err := e.store.GetQuotaByID(request.QuotaID)
	if err != nil {
		return err
	}

	residual, err := e.alloc.ResidualBytes(requestID)
	if err != nil {
		return err
	}
	disk, err := e.alloc.ChooseDisk(residual)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{"request_id": requestID}).Warn("no restore disk capacity, leaving slot waiting", nil)
		return nil
	}

	restoredToFile, listingPath, err := e.createListing(ctx, disk.Mountpoint, disk.ID, requestID)
	if err != nil {
		return err
	}
	if len(restoredToFile) == 0 {
		// Nothing currently resolvable on tape for this request; park it.
		return nil
	}

	// Notify once per request, not per retry: a retry that already
	// landed files arrives here with first_on_disk set.
	notifyEmail := e.notifyAddr(request.NotifyFirst, quota)
	if request.StoragedStart == nil && request.FirstOnDisk == nil {
		e.notifier.SendRequestStarted(ctx, notifyEmail, requestID, labelOf(request))
	}

	logPath := filepath.Join(disk.Mountpoint, fmt.Sprintf("retrieve_log_%d.txt", requestID))
	os.Remove(logPath)

	now := time.Now()
	if err := e.store.SetStoragedStart(requestID, now); err != nil {
		return err
	}

	cmd, err := e.tape.StartRetrieve(ctx, logPath, disk.Mountpoint, listingPath)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{"request_id": requestID, "error": err.Error()}).Error("sd_get failed to start", nil)
		return e.redoRequest(requestID, disk.ID)
	}
	// uuid-suffixed so a redo_request'd retry of the same request never
	// reuses a previous attempt's scratch directory name.
	requestDir := filepath.Join(disk.Mountpoint, fmt.Sprintf("request_%d_%s", requestID, uuid.NewString()))
	if err := e.store.StartSlot(slotID, cmd.Process.Pid, e.localHost, requestDir); err != nil {
		return err
	}
	e.publish("info", "retrieval started",
		fmt.Sprintf("request %d: staging %d file(s) from tape to %s", requestID, len(restoredToFile), disk.Mountpoint))

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	batcher := searchindex.NewBatcher(e.index, searchindex.StatusOnDisk)
	err = e.tailLog(ctx, logPath, restoredToFile, request, quota, disk.ID, waitErr, batcher)
	if flushErr := batcher.Flush(ctx); flushErr != nil {
		e.logger.WithFields(map[string]interface{}{"request_id": requestID, "error": flushErr.Error()}).Warn("search index update failed", nil)
	}
	if err != nil {
		return err
	}

	remaining, err := e.store.CountRequestFilesByStage(requestID, []models.Stage{models.StageRestoring})
	if err != nil {
		return err
	}
	if remaining == 0 {
		return e.completeRequest(ctx, slotID, request, quota)
	}
	return e.redoRequestAndFree(slotID, requestID, disk.ID)
}

// createListing resolves ONTAPE files for the request into
// tape-side-path -> TapeFile, validates each against a cached sd_ls
// listing, writes the listing file and marks included files RESTORING.
func (e *Executor) createListing(ctx context.Context, mountpoint string, diskID, requestID int64) (map[string]*models.TapeFile, string, error) {
	files, err := e.store.RequestFiles(requestID)
	if err != nil {
		return nil, "", err
	}

	restoredToFile := make(map[string]*models.TapeFile)
	spotPresence := make(map[string]map[string]int64)

	var lines []string
	for _, f := range files {
		if f.Stage != models.StageOnTape {
			continue
		}
		tapeSidePath, spot, err := e.tapeSidePath(f.LogicalPath)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{"file": f.LogicalPath, "error": err.Error()}).Warn("could not resolve spot, skipping", nil)
			continue
		}

		present, ok := spotPresence[spot]
		if !ok {
			listing, err := e.tape.ListSpot(ctx, spot)
			if err != nil {
				e.logger.WithFields(map[string]interface{}{"spot": spot, "error": err.Error()}).Warn("sd_ls failed, skipping spot this tick", nil)
				spotPresence[spot] = map[string]int64{}
				continue
			}
			spotPresence[spot] = listing
			present = listing
		}
		if _, ok := present[tapeSidePath]; !ok {
			continue
		}

		restoredToFile[tapeSidePath] = f
		lines = append(lines, tapeSidePath)
	}

	if len(restoredToFile) == 0 {
		return restoredToFile, "", nil
	}

	listingPath := filepath.Join(mountpoint, fmt.Sprintf("retrieve_listing_%d.txt", requestID))
	if err := os.WriteFile(listingPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return nil, "", err
	}

	for _, f := range restoredToFile {
		if err := e.store.SetRestoring(f.ID, diskID); err != nil {
			return nil, "", err
		}
	}

	return restoredToFile, listingPath, nil
}

// tapeSidePath returns the path sd_ls/sd_get know the file by: the
// logical path unchanged in test mode, otherwise with its resolved
// logical prefix swapped for /archive/<spot>.
func (e *Executor) tapeSidePath(logicalPath string) (path, spot string, err error) {
	prefix, sp, err := e.resolver.Resolve(logicalPath)
	if err != nil {
		return "", "", err
	}
	if e.testMode {
		return logicalPath, sp, nil
	}
	return "/archive/" + sp + logicalPath[len(prefix):], sp, nil
}

func (e *Executor) tailLog(ctx context.Context, logPath string, restoredToFile map[string]*models.TapeFile, request *models.TapeRequest, quota *models.Quota, diskID int64, waitErr chan error, batcher *searchindex.Batcher) error {
	var file *os.File
	var reader *bufio.Reader
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	firstFile := request.FirstOnDisk == nil

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ended := false
		select {
		case err := <-waitErr:
			ended = true
			if err != nil {
				e.logger.WithFields(map[string]interface{}{"request_id": request.ID}).Warn("sd_get exited with an error; draining log before finalising", nil)
			}
		case <-time.After(e.pollEvery):
		}

		if file == nil {
			f, err := os.Open(logPath)
			if err != nil {
				if ended {
					return nil
				}
				continue
			}
			file = f
			reader = bufio.NewReader(file)
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				// A fragment without a trailing newline is still being
				// written; seek back so the next pass re-reads it whole.
				if len(line) > 0 {
					if _, serr := file.Seek(-int64(len(line)), io.SeekCurrent); serr == nil {
						reader.Reset(file)
					}
				}
				break
			}
			saved, ok := e.tape.ParseLogLine(line)
			if !ok {
				continue
			}
			tf, ok := restoredToFile[saved.ArchivePath]
			if !ok {
				continue
			}
			if err := e.publishFile(tf, saved.LocalPath, request, diskID); err != nil {
				e.logger.WithFields(map[string]interface{}{"file": tf.LogicalPath, "error": err.Error()}).Error("failed to publish restored file", nil)
				continue
			}
			if firstFile {
				firstFile = false
				e.notifier.SendFirstFileOnDisk(ctx, e.notifyAddr(request.NotifyFirst, quota), request.ID, tf.LogicalPath)
			}
			batcher.Add(tf.LogicalPath)
		}

		if ended {
			return nil
		}
	}
}

// publishFile performs the per-file finalisation of step 4: symlink
// creation, RESTORED transition, request timing and disk accounting.
func (e *Executor) publishFile(tf *models.TapeFile, localPath string, request *models.TapeRequest, diskID int64) error {
	if info, err := os.Lstat(tf.LogicalPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(tf.LogicalPath); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("%w: %s exists and is not a symlink", nlaerr.ErrLinkConflict, tf.LogicalPath)
		}
	}
	if err := os.Symlink(localPath, tf.LogicalPath); err != nil {
		return err
	}

	if err := e.store.SetRestored(tf.ID); err != nil {
		return err
	}
	if err := e.store.RecordFileOnDisk(request.ID, time.Now()); err != nil {
		return err
	}
	return e.alloc.RecomputeUsed(diskID)
}

func (e *Executor) completeRequest(ctx context.Context, slotID int64, request *models.TapeRequest, quota *models.Quota) error {
	now := time.Now()
	if err := e.store.CompleteTapeRequest(request.ID, now); err != nil {
		return err
	}
	if err := e.store.FreeSlot(slotID); err != nil {
		return err
	}

	files, err := e.store.RequestFiles(request.ID)
	if err != nil {
		return err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	duration := time.Duration(0)
	if request.StoragedStart != nil {
		duration = now.Sub(*request.StoragedStart)
	}

	notifyEmail := e.notifyAddr(request.NotifyLast, quota)
	e.notifier.SendLastFileOnDisk(ctx, notifyEmail, request.ID, len(files), total, duration)
	e.publish("success", "retrieval finished",
		fmt.Sprintf("request %d: %d file(s) on disk", request.ID, len(files)))
	return nil
}

func (e *Executor) redoRequestAndFree(slotID, requestID, diskID int64) error {
	if err := e.redoRequest(requestID, diskID); err != nil {
		return err
	}
	e.publish("warning", "retrieval incomplete",
		fmt.Sprintf("request %d: some files did not restore, rescheduling", requestID))
	return e.store.FreeSlot(slotID)
}

// redoRequest resets every still-RESTORING file back to ONTAPE and
// clears the request's timing fields, so it is rescheduled next tick.
func (e *Executor) redoRequest(requestID, diskID int64) error {
	files, err := e.store.RequestFiles(requestID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Stage != models.StageRestoring {
			continue
		}
		if err := e.store.DemoteToOnTape(f.ID); err != nil {
			return err
		}
	}
	if err := e.alloc.RecomputeUsed(diskID); err != nil {
		return err
	}
	return e.store.RedoTapeRequest(requestID)
}

func (e *Executor) notifyAddr(requestAddr *string, quota *models.Quota) string {
	if requestAddr != nil && *requestAddr != "" {
		return *requestAddr
	}
	if quota.EmailAddress != nil {
		return *quota.EmailAddress
	}
	return ""
}

func labelOf(r *models.TapeRequest) string {
	if r.Label != nil {
		return *r.Label
	}
	return fmt.Sprintf("request %d", r.ID)
}
