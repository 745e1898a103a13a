// Package searchindex batches logical-path updates to the external
// archive search index, telling it which paths have appeared on and
// disappeared from disk. The index is an external collaborator; a
// failed update is logged and otherwise ignored.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Status is the on-disk presence an index update batch reports for a
// set of logical paths.
type Status string

const (
	// StatusOnDisk marks paths as newly available at their logical
	// path (the Executor's publish step).
	StatusOnDisk Status = "on_disk"
	// StatusNotOnDisk marks paths as evicted back to tape (Tidy's
	// removal step).
	StatusNotOnDisk Status = "not_on_disk"
)

// Updater posts batched logical-path status changes to the external
// search index.
type Updater struct {
	url    string
	client *http.Client
}

// New creates an Updater posting to url. A zero-value url disables the
// client entirely: UpdateBatch becomes a no-op, matching deployments
// that don't run the index updater.
func New(url string, client *http.Client) *Updater {
	if client == nil {
		client = http.DefaultClient
	}
	return &Updater{url: url, client: client}
}

type batchPayload struct {
	Status Status   `json:"status"`
	Paths  []string `json:"paths"`
}

// UpdateBatch posts one batch of logical paths under status. Errors are
// returned to the caller, who is expected to log and continue: index
// failures never block request processing.
func (u *Updater) UpdateBatch(ctx context.Context, status Status, paths []string) error {
	if u == nil || u.url == "" || len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(batchPayload{Status: status, Paths: paths})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("search index update failed: status %d", resp.StatusCode)
	}
	return nil
}

// Batcher accumulates paths for a single status and flushes them as one
// UpdateBatch call, so per-file callers (the Executor's tail loop,
// Tidy's removal loop) don't issue one HTTP call per file.
type Batcher struct {
	updater *Updater
	status  Status
	paths   []string
}

// NewBatcher creates a Batcher that will flush under status.
func NewBatcher(updater *Updater, status Status) *Batcher {
	return &Batcher{updater: updater, status: status}
}

// Add queues path for the next Flush.
func (b *Batcher) Add(path string) {
	b.paths = append(b.paths, path)
}

// Flush posts every queued path as one batch and clears the queue
// regardless of outcome; a failed flush is logged by the caller, not
// retried inline (IndexUpdateFailure is non-fatal by design).
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.paths) == 0 {
		return nil
	}
	paths := b.paths
	b.paths = nil
	return b.updater.UpdateBatch(ctx, b.status, paths)
}
