// Package models defines the persistent entities of the Near-Line
// Archive control plane: TapeFile, RestoreDisk, Quota, TapeRequest and
// Slot, plus the admin-API identities (User, APIKey, AuditLog) that
// gate the control plane.
package models

import "time"

// UserRole represents control-plane permission levels.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleReadOnly UserRole = "readonly"
)

// User represents a control-plane account for authentication.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         UserRole  `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// APIKey is a long-lived credential for non-interactive clients of the
// control plane (e.g. the ingestion intake job).
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	Role       UserRole   `json:"role" db:"role"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// AuditLog is an audit trail entry for a control-plane write.
type AuditLog struct {
	ID           int64     `json:"id" db:"id"`
	UserID       *int64    `json:"user_id" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   *int64    `json:"resource_id" db:"resource_id"`
	Details      string    `json:"details" db:"details"` // JSON
	IPAddress    string    `json:"ip_address" db:"ip_address"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Stage is the lifecycle state of a TapeFile.
type Stage string

const (
	StageUnverified Stage = "UNVERIFIED"
	StageOnTape     Stage = "ONTAPE"
	StageRestoring  Stage = "RESTORING"
	StageOnDisk     Stage = "ONDISK"
	StageDeleted    Stage = "DELETED"
	StageRestored   Stage = "RESTORED"
)

// Valid reports whether s is one of the six legal stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUnverified, StageOnTape, StageRestoring, StageOnDisk, StageDeleted, StageRestored:
		return true
	}
	return false
}

// TapeFile is a file whose primary storage is tape.
type TapeFile struct {
	ID          int64      `json:"id" db:"id"`
	LogicalPath string     `json:"logical_path" db:"logical_path"`
	Size        int64      `json:"size" db:"size"`
	VerifiedAt  *time.Time `json:"verified_at" db:"verified_at"`
	Stage       Stage      `json:"stage" db:"stage"`
	RestoreDisk *int64     `json:"restore_disk" db:"restore_disk"`
}

// HasRestoreDisk reports whether f's stage is one that carries a
// restore disk (RESTORING or RESTORED). It looks only at the stage,
// not at the RestoreDisk field.
func (f *TapeFile) HasRestoreDisk() bool {
	return f.Stage == StageRestoring || f.Stage == StageRestored
}

// RestoreDisk is a managed restore-cache filesystem area.
type RestoreDisk struct {
	ID             int64  `json:"id" db:"id"`
	Mountpoint     string `json:"mountpoint" db:"mountpoint"`
	AllocatedBytes int64  `json:"allocated_bytes" db:"allocated_bytes"`
	UsedBytes      int64  `json:"used_bytes" db:"used_bytes"`
}

// Free returns the disk's currently free capacity.
func (rd *RestoreDisk) Free() int64 {
	return rd.AllocatedBytes - rd.UsedBytes
}

// VerifyQuotaUser is the reserved quota used for the implicit
// retention requests created by the Verifier.
const VerifyQuotaUser = "_VERIFY"

// Quota is a per-user retrieval allowance.
type Quota struct {
	ID           int64   `json:"id" db:"id"`
	User         string  `json:"user" db:"user"`
	SizeBytes    int64   `json:"size_bytes" db:"size_bytes"`
	EmailAddress *string `json:"email_address" db:"email_address"`
	Notes        *string `json:"notes" db:"notes"`
}

// TapeRequest is a retention-bounded retrieval request.
type TapeRequest struct {
	ID              int64      `json:"id" db:"id"`
	Label           *string    `json:"label" db:"label"`
	QuotaID         int64      `json:"quota_id" db:"quota_id"`
	RetentionAt     *time.Time `json:"retention_at" db:"retention_at"`
	RequestDate     time.Time  `json:"request_date" db:"request_date"`
	Active          bool       `json:"active" db:"active"`
	RequestFiles    string     `json:"request_files" db:"request_files"`       // newline-delimited logical paths
	RequestPatterns string     `json:"request_patterns" db:"request_patterns"` // newline-delimited substrings
	NotifyFirst     *string    `json:"notify_first" db:"notify_first"`
	NotifyLast      *string    `json:"notify_last" db:"notify_last"`
	StoragedStart   *time.Time `json:"storaged_start" db:"storaged_start"`
	StoragedEnd     *time.Time `json:"storaged_end" db:"storaged_end"`
	FirstOnDisk     *time.Time `json:"first_on_disk" db:"first_on_disk"`
	LastOnDisk      *time.Time `json:"last_on_disk" db:"last_on_disk"`
}

// IsPattern reports whether the request resolves by pattern rather
// than by an explicit file list.
func (r *TapeRequest) IsPattern() bool {
	return r.RequestFiles == "" && r.RequestPatterns != ""
}

// Slot is a seat in the retrieval pool.
type Slot struct {
	ID            int64   `json:"id" db:"id"`
	TapeRequestID *int64  `json:"tape_request_id" db:"tape_request_id"`
	PID           *int    `json:"pid" db:"pid"`
	Host          *string `json:"host" db:"host"`
	RequestDir    *string `json:"request_dir" db:"request_dir"`
}

// Occupied reports whether the slot currently holds a request.
func (s *Slot) Occupied() bool {
	return s.TapeRequestID != nil
}

// Started reports whether retrieval has actually begun for the
// occupied request (pid/host/request_dir all set per the Slot invariant).
func (s *Slot) Started() bool {
	return s.PID != nil && s.Host != nil && s.RequestDir != nil
}
