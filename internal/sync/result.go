// Package sync orchestrates offline synchronization with the FieldCheck
// backend.
package sync

import (
	"time"

	"github.com/fieldcheck/backend/internal/errors"
	"github.com/fieldcheck/backend/internal/models"
	"github.com/fieldcheck/backend/internal/remote"
)

// SyncError is one failure collected during a cycle. Errors are gathered,
// never thrown past the Sync boundary.
type SyncError struct {
	Code       errors.ErrorCode  `json:"code"`
	EntityType models.EntityType `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
}

// SyncResult is the outcome of one Sync or RetryFailed cycle. A partially
// successful cycle has Success=false with the specific failures
// enumerated; callers must inspect Errors rather than expect an exception.
type SyncResult struct {
	Success             bool                        `json:"success"`
	Uploaded            int                         `json:"uploaded"`
	Downloaded          int                         `json:"downloaded"`
	Conflicts           int                         `json:"conflicts"`
	Errors              []SyncError                 `json:"errors"`
	PendingPhotoUploads []remote.PendingPhotoUpload `json:"pending_photo_uploads,omitempty"`
	Duration            time.Duration               `json:"duration"`
	Timestamp           time.Time                   `json:"timestamp"`
}

// addError appends a failure to the result.
func (r *SyncResult) addError(e SyncError) {
	r.Errors = append(r.Errors, e)
}

// finalize stamps duration and computes Success. Conflicts are not errors:
// a cycle with only conflicts is still successful, the conflicted entities
// just remain unsynced until resolved.
func (r *SyncResult) finalize(start time.Time) *SyncResult {
	r.Duration = time.Since(start)
	r.Success = len(r.Errors) == 0
	return r
}
