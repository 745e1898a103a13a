// Package verify promotes newly archived UNVERIFIED files by matching
// them against externally produced checksum logs (full verify) or a
// direct tape presence check (quick verify), folding the confirmed
// files into a synthetic retention request so the tidy loop
// eventually returns them to tape.
package verify

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/models"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/store"
	tape "github.com/cedadev/nla-control-go/internal/tapeclient"
)

// defaultRetention is how long a verified file's synthetic request
// keeps it from Tidy's reach, giving users a chance to request it
// before it is immediately evicted back to tape.
const defaultRetention = 20 * 24 * time.Hour

// verifyQuotaSize is the size of the _VERIFY quota created on first use;
// it is nominal, since nothing ever checks usage against it.
const verifyQuotaSize = 10_000_000_000_000

// Config carries the Verifier's tunables.
type Config struct {
	// ChksumsDir is scanned for "<spot>.chksums.*" log files.
	ChksumsDir string
	// TestVersion mirrors TEST_VERSION: the checksum log's recorded
	// filename is compared against the logical path verbatim, skipping
	// the spot-relative path rewrite.
	TestVersion bool
}

// EventFunc publishes an operator-console event (type, category,
// title, message). A nil EventFunc disables publishing.
type EventFunc func(eventType, category, title, message string)

// Verifier promotes UNVERIFIED files to ONDISK once their checksum has
// been independently confirmed.
type Verifier struct {
	store    *store.Store
	resolver *pathresolver.Resolver
	tape     *tape.Service
	logger   *logging.Logger
	events   EventFunc
	cfg      Config
}

// New creates a Verifier. events, if non-nil, receives a notice after
// each verify pass.
func New(st *store.Store, resolver *pathresolver.Resolver, tapeSvc *tape.Service, logger *logging.Logger, events EventFunc, cfg Config) *Verifier {
	return &Verifier{store: st, resolver: resolver, tape: tapeSvc, logger: logger, events: events, cfg: cfg}
}

func (v *Verifier) publish(title, message string) {
	if v.events != nil {
		v.events("info", "verify", title, message)
	}
}

// Report summarises one Run for operator diagnostics.
type Report struct {
	NumVerified     int
	MissingLogFiles []string
	ErrorLogFiles   []string
	FilesNotFound   []string
}

// Run iterates every UNVERIFIED file, matches it against its spot's
// checksum logs, and promotes matches to ONDISK under a synthetic
// _VERIFY TapeRequest. If verifyNow is true the request's retention is
// "now" (immediate eviction eligibility) rather than the usual 20 days.
func (v *Verifier) Run(ctx context.Context, now time.Time, verifyNow bool) (*Report, error) {
	files, err := v.store.ListTapeFilesByStage(models.StageUnverified)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	missingSeen := make(map[string]struct{})
	errorSeen := make(map[string]struct{})
	logCache := make(map[string][]string)

	var verifiedPaths []string

	for _, f := range files {
		prefix, spot, err := v.resolver.Resolve(f.LogicalPath)
		if err != nil {
			continue
		}

		toFind, toFindRel := v.candidatePaths(prefix, spot, f.LogicalPath)

		logFiles, ok := logCache[spot]
		if !ok {
			logFiles, err = sortedChecksumLogs(v.cfg.ChksumsDir, spot)
			if err != nil {
				return nil, err
			}
			logCache[spot] = logFiles
		}
		if len(logFiles) == 0 {
			if _, seen := missingSeen[spot]; !seen {
				missingSeen[spot] = struct{}{}
				report.MissingLogFiles = append(report.MissingLogFiles, spot)
			}
			continue
		}

		found, err := v.matchesChecksumLog(logFiles, toFind, toFindRel, errorSeen, report)
		if err != nil {
			return nil, err
		}
		if !found {
			report.FilesNotFound = append(report.FilesNotFound, toFind)
			continue
		}

		if err := v.store.PromoteToOnDisk(f.ID, now); err != nil {
			return nil, err
		}
		report.NumVerified++
		verifiedPaths = append(verifiedPaths, f.LogicalPath)
	}

	if len(verifiedPaths) > 0 {
		if err := v.createVerifyRequest(verifiedPaths, now, verifyNow); err != nil {
			return nil, err
		}
	}

	v.publish("verify pass done",
		fmt.Sprintf("%d file(s) verified, %d not found in checksum logs", report.NumVerified, len(report.FilesNotFound)))
	return report, nil
}

// matchesChecksumLog scans logFiles, most-recent-first, for a line
// whose filename column equals toFind or toFindRel. A malformed line is
// recorded in report and skipped, never fatal.
func (v *Verifier) matchesChecksumLog(logFiles []string, toFind, toFindRel string, errorSeen map[string]struct{}, report *Report) (bool, error) {
	for _, logPath := range logFiles {
		f, err := os.Open(logPath)
		if err != nil {
			continue
		}
		found := false
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 2 {
				if _, seen := errorSeen[logPath]; !seen {
					errorSeen[logPath] = struct{}{}
					report.ErrorLogFiles = append(report.ErrorLogFiles, logPath)
				}
				continue
			}
			filename := fields[1]
			if filename == toFind || filename == toFindRel {
				found = true
				break
			}
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return false, scanErr
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// candidatePaths returns the two forms a checksum log might record a
// file's name under: the restore-cache path and the spot-relative path.
// In TestVersion the log is expected to record the logical path as-is.
func (v *Verifier) candidatePaths(prefix, spot, logicalPath string) (toFind, toFindRel string) {
	if v.cfg.TestVersion {
		return logicalPath, logicalPath
	}
	rel := logicalPath[len(prefix):]
	toFind = filepath.Join("/datacentre/restorecache/archive", spot) + rel
	toFindRel = spot + rel
	return toFind, toFindRel
}

// sortedChecksumLogs globs "<dir>/<spot>.chksums.*" and sorts the
// matches by modification time, most recent first.
func sortedChecksumLogs(dir, spot string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, spot+".chksums.*"))
	if err != nil {
		return nil, err
	}
	type logFile struct {
		path    string
		modTime time.Time
	}
	logs := make([]logFile, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		logs = append(logs, logFile{path: m, modTime: info.ModTime()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime.After(logs[j].modTime) })

	paths := make([]string, len(logs))
	for i, l := range logs {
		paths[i] = l.path
	}
	return paths, nil
}

// createVerifyRequest folds the just-verified paths into the synthetic
// _VERIFY TapeRequest, creating the quota and request on first use.
func (v *Verifier) createVerifyRequest(paths []string, now time.Time, verifyNow bool) error {
	quota, err := v.store.GetQuotaByUser(models.VerifyQuotaUser)
	if err != nil {
		notes := "System quota for requests from verification."
		quota, err = v.store.CreateQuota(models.VerifyQuotaUser, verifyQuotaSize, nil, &notes)
		if err != nil {
			return err
		}
	}

	retention := now.Add(defaultRetention)
	if verifyNow {
		retention = now
	}
	label := "FROM VERIFY PROCESS"
	req, err := v.store.CreateTapeRequest(store.CreateTapeRequestParams{
		Label:        &label,
		QuotaID:      quota.ID,
		RetentionAt:  &retention,
		RequestFiles: strings.Join(paths, "\n"),
	})
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(paths))
	for _, p := range paths {
		f, err := v.store.GetTapeFileByLogicalPath(p)
		if err != nil {
			continue
		}
		ids = append(ids, f.ID)
	}
	return v.store.AddRequestFiles(req.ID, ids)
}

// QuickVerify confirms tape presence (skipping the checksum log lookup
// entirely) for UNVERIFIED files whose logical_path starts with one of
// prefixes, folding confirmed files into a synthetic _VERIFY request.
// A confirmed file's stage is deliberately left UNVERIFIED: the next
// full verify pass still re-checks it against a checksum log.
func (v *Verifier) QuickVerify(ctx context.Context, prefixes []string, now time.Time, verifyNow bool) (*Report, error) {
	files, err := v.store.ListTapeFilesByStage(models.StageUnverified)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	spotLists := make(map[string]map[string]int64)
	var confirmed []string

	for _, f := range files {
		if !hasAnyPrefix(f.LogicalPath, prefixes) {
			continue
		}
		prefix, spot, err := v.resolver.Resolve(f.LogicalPath)
		if err != nil {
			continue
		}

		entries, ok := spotLists[spot]
		if !ok {
			entries, err = v.tape.ListSpot(ctx, spot)
			if err != nil {
				continue
			}
			spotLists[spot] = entries
		}

		toFind := f.LogicalPath
		if !v.cfg.TestVersion {
			toFind = "/archive/" + spot + f.LogicalPath[len(prefix):]
		}
		if _, present := entries[toFind]; !present {
			report.FilesNotFound = append(report.FilesNotFound, f.LogicalPath)
			continue
		}

		confirmed = append(confirmed, f.LogicalPath)
		report.NumVerified++
	}

	if len(confirmed) > 0 {
		if err := v.createVerifyRequest(confirmed, now, verifyNow); err != nil {
			return nil, err
		}
	}
	v.publish("quick verify pass done",
		fmt.Sprintf("%d file(s) confirmed on tape, %d not found", report.NumVerified, len(report.FilesNotFound)))
	return report, nil
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
