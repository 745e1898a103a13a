// Package tape drives the external StorageD command-line tools
// (sd_get, sd_ls) that move bytes between tape and a restore disk.
// sd_ls listings are cached per spot since a full listing is expensive
// and spots change rarely relative to how often the Executor consults
// them.
package tape

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cedadev/nla-control-go/internal/cmdutil"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

// Config carries the settings the Service needs to build sd_get/sd_ls
// command lines.
type Config struct {
	SDHost      string
	TestVersion bool
}

// Service invokes sd_get/sd_ls and caches sd_ls listings.
type Service struct {
	cfg        Config
	listingTTL time.Duration
	cache      *lru.Cache[string, spotListing]
}

type spotListing struct {
	// entries maps a spot's tape-side path to its reported size in
	// bytes, col 4 of sd_ls -L file's 11-column output.
	entries   map[string]int64
	fetchedAt time.Time
}

// New creates a Service. cacheSize bounds how many spots' sd_ls
// listings are held at once.
func New(cfg Config, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.New[string, spotListing](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, listingTTL: 5 * time.Minute, cache: cache}, nil
}

// savedFilePattern matches sd_get's production log line reporting a
// completed file restore. savedFilePatternTest matches the test-mode
// emulator's equivalent line.
var (
	savedFilePattern     = regexp.MustCompile(`Saving (\S+) into local file (\S+)`)
	savedFilePatternTest = regexp.MustCompile(`Copying file: (\S+) to (\S+)`)
)

// SavedFile is one "file restored" event parsed from an sd_get log.
type SavedFile struct {
	ArchivePath string
	LocalPath   string
}

// ParseLogLine extracts a SavedFile event from one line of an sd_get
// log, using the test-mode pattern when cfg.TestVersion is set.
func (s *Service) ParseLogLine(line string) (SavedFile, bool) {
	pattern := savedFilePattern
	if s.cfg.TestVersion {
		pattern = savedFilePatternTest
	}
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return SavedFile{}, false
	}
	return SavedFile{ArchivePath: m[1], LocalPath: m[2]}, true
}

// StartRetrieve launches sd_get against listingPath, writing its own
// progress log to logPath under mountpoint. The returned *exec.Cmd has
// already been Start()ed; callers are responsible for Wait()ing on it.
func (s *Service) StartRetrieve(ctx context.Context, logPath, mountpoint, listingPath string) (*exec.Cmd, error) {
	args := []string{"-v", "-l", logPath, "-h", s.cfg.SDHost, "-r", mountpoint, "-f", listingPath}

	var cmd *exec.Cmd
	if s.cfg.TestVersion {
		cmd = exec.CommandContext(ctx, "sd_get_emulator", args...)
	} else {
		cmd = exec.CommandContext(ctx, "sd_get", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting sd_get: %s", nlaerr.ErrSubprocessFailed, cmdutil.ErrorDetail(err, &stderr))
	}
	return cmd, nil
}

// ListSpot returns the tape-side path -> size map sd_ls reports present
// in spot, using a cached listing no older than the TTL when available.
// Callers that only need presence can ignore the map value.
func (s *Service) ListSpot(ctx context.Context, spot string) (map[string]int64, error) {
	if cached, ok := s.cache.Get(spot); ok && time.Since(cached.fetchedAt) < s.listingTTL {
		return cached.entries, nil
	}

	entries, err := s.runSDLs(ctx, spot)
	if err != nil {
		return nil, err
	}
	s.cache.Add(spot, spotListing{entries: entries, fetchedAt: time.Now()})
	return entries, nil
}

// InvalidateSpot drops a spot's cached sd_ls listing, forcing the next
// ListSpot to re-fetch.
func (s *Service) InvalidateSpot(spot string) {
	s.cache.Remove(spot)
}

// sd_ls -L file prints 11 whitespace-separated columns per tape file;
// only status (3), size (4) and path (11) are of interest here.
const (
	sdLsColStatus = 2
	sdLsColSize   = 3
	sdLsColPath   = 10
	sdLsMinCols   = 11
)

func (s *Service) runSDLs(ctx context.Context, spot string) (map[string]int64, error) {
	cmd := exec.CommandContext(ctx, "sd_ls", "-s", spot, "-L", "file")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: sd_ls -s %s: %s", nlaerr.ErrSubprocessFailed, spot, cmdutil.ErrorDetail(err, &stderr))
	}

	entries := make(map[string]int64)
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < sdLsMinCols {
			continue
		}
		if fields[sdLsColStatus] != "TAPED" {
			continue
		}
		size, err := strconv.ParseInt(fields[sdLsColSize], 10, 64)
		if err != nil {
			continue
		}
		entries[fields[sdLsColPath]] = size
	}
	return entries, scanner.Err()
}

// ProcessAlive reports whether pid is still running on the local host.
// It shells out to `kill -0` rather than relying on /proc. A pid
// recorded against another host cannot be checked from here and is
// reported alive, so a remote worker's retrieval is never reset by a
// host that cannot see its process table.
func ProcessAlive(pid int, host, localHost string) bool {
	if host != localHost {
		return true
	}
	cmd := exec.Command("kill", "-0", strconv.Itoa(pid))
	return cmd.Run() == nil
}
