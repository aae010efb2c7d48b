// Package sync orchestrates offline synchronization with the FieldCheck
// backend.
package sync

import (
	"context"

	"github.com/fieldcheck/backend/internal/models"
	"github.com/fieldcheck/backend/internal/sync/conflict"
)

// Syncer is the engine surface consumed by the background scheduler and
// the UI bindings.
type Syncer interface {
	// Sync runs one full upload-then-download cycle.
	Sync(ctx context.Context) (*SyncResult, error)

	// RetryFailed resets failed entries and re-runs the upload phase for
	// their entities.
	RetryFailed(ctx context.Context) (*SyncResult, error)

	// State returns a read-only snapshot of the sync state.
	State() (*models.SyncState, error)

	// Resolver exposes the active conflict set for operator resolution.
	Resolver() *conflict.Resolver

	// OnProgress registers a progress observer.
	OnProgress(fn ProgressFunc)

	// OnError registers an error observer.
	OnError(fn ErrorFunc)

	// OnConflict registers a conflict observer.
	OnConflict(fn ConflictFunc)
}

// Ensure *Engine implements the interface at compile time.
var _ Syncer = (*Engine)(nil)
