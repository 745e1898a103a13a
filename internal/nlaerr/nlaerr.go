// Package nlaerr defines the sentinel error taxonomy shared across the
// control plane's components.
package nlaerr

import "errors"

var (
	// ErrNotFound is returned when a lookup by ID or logical path finds
	// no matching row.
	ErrNotFound = errors.New("not found")
	// ErrConfigurationError is returned when the Path Resolver's backing
	// tables cannot be loaded (non-200 response, malformed table).
	ErrConfigurationError = errors.New("configuration error")
	// ErrNoCapacity is returned when the Disk Allocator cannot find a
	// restore disk with enough free space for a file.
	ErrNoCapacity = errors.New("no restore disk capacity")
	// ErrNoSlotAvailable is returned when the Slot Scheduler has no free
	// slot to assign to a request.
	ErrNoSlotAvailable = errors.New("no slot available")
	// ErrLinkConflict is returned when the Retrieval Executor's publish
	// step finds a real file already occupying the target symlink path.
	ErrLinkConflict = errors.New("link conflict")
	// ErrInvalidStage is returned when an operation is attempted on a
	// TapeFile whose stage makes it inapplicable (e.g. verifying a
	// DELETED file).
	ErrInvalidStage = errors.New("invalid stage for operation")
	// ErrQuotaExceeded is returned when a request would push a user's
	// quota usage over its allowance.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrSubprocessFailed wraps a failed sd_get/sd_ls invocation; use
	// cmdutil.ErrorDetail to extract the formatted message.
	ErrSubprocessFailed = errors.New("tape client subprocess failed")
)
