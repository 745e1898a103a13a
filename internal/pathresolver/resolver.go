// Package pathresolver maps logical archive paths to spot names and
// physical storage paths using two externally fetched line-delimited
// tables, held as an explicit, atomically-swappable immutable value so
// lookups stay safe under a concurrent reload.
package pathresolver

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cedadev/nla-control-go/internal/nlaerr"
)

// Tables is the immutable result of one Load/Reload. Every field is
// built once and never mutated; concurrent readers share it safely.
type Tables struct {
	// logicalPrefixes is sorted descending so the first prefix match is
	// the longest one.
	logicalPrefixes   []string
	spotByPrefix      map[string]string
	storagePathBySpot map[string]string
}

// Resolver holds the current Tables behind an atomic pointer so Reload
// can swap in a freshly fetched snapshot without locking readers out.
type Resolver struct {
	downloadConfURL string
	storagePathsURL string
	httpClient      *http.Client
	current         atomic.Pointer[Tables]
}

// New creates a Resolver that fetches its tables from the given URLs.
// Call Load before using Resolve/StoragePath/ArchiveVolume.
func New(downloadConfURL, storagePathsURL string, client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		downloadConfURL: downloadConfURL,
		storagePathsURL: storagePathsURL,
		httpClient:      client,
	}
}

// Load fetches both tables and installs them. It never mutates a
// Resolver that is already in use by concurrent readers: a new Tables
// value is built first and only then swapped in.
func (r *Resolver) Load(ctx context.Context) error {
	tables, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	r.current.Store(tables)
	return nil
}

// Reload is an alias for Load documenting the atomic-swap intent at
// call sites that periodically refresh the tables.
func (r *Resolver) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

func (r *Resolver) fetch(ctx context.Context) (*Tables, error) {
	downloadConfLines, err := r.fetchLines(ctx, r.downloadConfURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching download_conf: %v", nlaerr.ErrConfigurationError, err)
	}
	spotlistLines, err := r.fetchLines(ctx, r.storagePathsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching spotlist: %v", nlaerr.ErrConfigurationError, err)
	}

	spotByPrefix := make(map[string]string, len(downloadConfLines))
	prefixes := make([]string, 0, len(downloadConfLines))
	for _, line := range downloadConfLines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		spot, prefix := fields[0], fields[1]
		spotByPrefix[prefix] = spot
		prefixes = append(prefixes, prefix)
	}
	// Sorted descending: for overlapping prefixes, the lexicographically
	// largest (and thus longest when one is a prefix of the other) is
	// tried first.
	sort.Sort(sort.Reverse(sort.StringSlice(prefixes)))

	storagePathBySpot := make(map[string]string, len(spotlistLines))
	for _, line := range spotlistLines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		storagePathBySpot[fields[1]] = fields[0]
	}

	return &Tables{
		logicalPrefixes:   prefixes,
		spotByPrefix:      spotByPrefix,
		storagePathBySpot: storagePathBySpot,
	}, nil
}

func (r *Resolver) fetchLines(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
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
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Resolve returns the longest logical-path prefix matching path and its
// spot name. It returns nlaerr.ErrNotFound (standing in for
// NoFilesetForPath) if nothing matches.
func (r *Resolver) Resolve(path string) (prefix, spot string, err error) {
	tables := r.current.Load()
	if tables == nil {
		return "", "", nlaerr.ErrConfigurationError
	}
	for _, p := range tables.logicalPrefixes {
		if strings.HasPrefix(path, p) {
			return p, tables.spotByPrefix[p], nil
		}
	}
	return "", "", nlaerr.ErrNotFound
}

// StoragePath returns the physical storage path backing spot.
func (r *Resolver) StoragePath(spot string) (string, error) {
	tables := r.current.Load()
	if tables == nil {
		return "", nlaerr.ErrConfigurationError
	}
	path, ok := tables.storagePathBySpot[spot]
	if !ok {
		return "", nlaerr.ErrNotFound
	}
	return path, nil
}

// LogicalPrefix returns the logical path prefix that maps to spot, the
// inverse of Resolve. Used when reconstructing a logical path from a
// spot-relative tape path.
func (r *Resolver) LogicalPrefix(spot string) (string, error) {
	tables := r.current.Load()
	if tables == nil {
		return "", nlaerr.ErrConfigurationError
	}
	for prefix, sp := range tables.spotByPrefix {
		if sp == spot {
			return prefix, nil
		}
	}
	return "", nlaerr.ErrNotFound
}

// ArchiveVolume returns the parent directory of spot's storage path.
func (r *Resolver) ArchiveVolume(logicalPath string) (string, error) {
	_, spot, err := r.Resolve(logicalPath)
	if err != nil {
		return "", err
	}
	storagePath, err := r.StoragePath(spot)
	if err != nil {
		return "", err
	}
	idx := strings.LastIndex(strings.TrimRight(storagePath, "/"), "/")
	if idx < 0 {
		return "/", nil
	}
	return storagePath[:idx], nil
}

// MatchStoragePathSubstring reports whether path contains one of the
// known physical storage paths as a substring, the signature of a file
// whose logical_path was mis-registered as a physical archive-volume
// path instead of its logical one. It returns the longest matching storage
// path and its spot, so overlapping volume paths resolve to the most
// specific one.
func (r *Resolver) MatchStoragePathSubstring(path string) (spot, storagePath string, ok bool) {
	tables := r.current.Load()
	if tables == nil {
		return "", "", false
	}
	for sp, storage := range tables.storagePathBySpot {
		if storage == "" || !strings.Contains(path, storage) {
			continue
		}
		if len(storage) > len(storagePath) {
			spot, storagePath, ok = sp, storage, true
		}
	}
	return spot, storagePath, ok
}

// Spots returns every spot name the resolver currently knows about.
func (r *Resolver) Spots() []string {
	tables := r.current.Load()
	if tables == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(tables.spotByPrefix))
	spots := make([]string, 0, len(tables.spotByPrefix))
	for _, spot := range tables.spotByPrefix {
		if _, ok := seen[spot]; ok {
			continue
		}
		seen[spot] = struct{}{}
		spots = append(spots, spot)
	}
	sort.Strings(spots)
	return spots
}
