// Package ingest implements move_files_to_nla: the periodic scan that
// discovers files newly written into tape-only archive filesets and
// registers them with the control plane at UNVERIFIED.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/nlaerr"
	"github.com/cedadev/nla-control-go/internal/store"
)

// Config carries the scan's tunables.
type Config struct {
	// OnTapeURL is the line-delimited "tape storage only" fileset
	// listing; column 3 (0-indexed 2) of each line is a directory path.
	OnTapeURL string
	// MinFileSize below which a file is skipped, same threshold the
	// tape re-discovery repair uses.
	MinFileSize int64
}

// Scanner walks each tape-only fileset and registers new files.
type Scanner struct {
	store  *store.Store
	logger *logging.Logger
	client *http.Client
	cfg    Config
}

// New creates a Scanner.
func New(st *store.Store, logger *logging.Logger, client *http.Client, cfg Config) *Scanner {
	if client == nil {
		client = http.DefaultClient
	}
	return &Scanner{store: st, logger: logger, client: client, cfg: cfg}
}

// Report summarises one Run.
type Report struct {
	Added   int
	Skipped int
}

// Run fetches the fileset listing and walks each one, adding any file
// that is not a symlink and meets MinFileSize. A file already known to
// the store (by logical_path) is left untouched rather than re-added.
func (s *Scanner) Run(ctx context.Context) (*Report, error) {
	if s.cfg.OnTapeURL == "" {
		return &Report{}, nil
	}
	filesets, err := s.fetchFilesets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching on-tape fileset list: %v", nlaerr.ErrConfigurationError, err)
	}

	report := &Report{}
	for _, fs := range filesets {
		if err := s.scanFileset(fs, report); err != nil {
			s.logger.WithFields(map[string]interface{}{"fileset": fs, "error": err.Error()}).Warn("move_files_to_nla: fileset scan failed, skipping", nil)
		}
	}
	return report, nil
}

func (s *Scanner) scanFileset(root string, report *Report) error {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			report.Skipped++
			return nil
		}
		if info.Size() < s.cfg.MinFileSize {
			report.Skipped++
			return nil
		}
		if _, err := s.store.GetTapeFileByLogicalPath(path); err == nil {
			return nil
		} else if !isNotFound(err) {
			return err
		}
		if _, err := s.store.AddTapeFile(path, info.Size()); err != nil {
			return err
		}
		report.Added++
		return nil
	})
}

// fetchFilesets retrieves OnTapeURL and extracts column 3 of each
// whitespace-delimited line, the fileset's directory path.
func (s *Scanner) fetchFilesets(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.OnTapeURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var filesets []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		filesets = append(filesets, fields[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return filesets, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, nlaerr.ErrNotFound)
}
