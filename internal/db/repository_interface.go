// Package db provides repository interfaces for the sync store.
package db

import (
	"encoding/json"

	"github.com/fieldcheck/backend/internal/models"
)

// QueueRepository defines the durable queue operations.
type QueueRepository interface {
	// Enqueue appends a pending mutation and returns the queue id.
	Enqueue(entityType models.EntityType, entityID string, op models.Operation, payload json.RawMessage, clientUpdatedAt int64) (int64, error)

	// ListPending returns non-in-flight entries in FIFO (id) order.
	ListPending() ([]*models.QueuedOperation, error)

	// ListFailed returns entries in error state in FIFO (id) order.
	ListFailed() ([]*models.QueuedOperation, error)

	// MarkProcessing locks entries for an in-flight batch.
	MarkProcessing(ids []int64) error

	// RevertProcessing unlocks entries after an undelivered batch.
	RevertProcessing(ids []int64) error

	// MarkSynced deletes an entry after confirmed server success.
	MarkSynced(queueID int64) error

	// MarkFailed records a per-item rejection.
	MarkFailed(queueID int64, errMsg string) error

	// ResetFailed clears attempt bookkeeping on one failed entry.
	ResetFailed(queueID int64) error

	// ResetAllFailed clears attempt bookkeeping on all failed entries.
	ResetAllFailed() (int, error)

	// DeleteForEntity removes all entries for one entity.
	DeleteForEntity(entityType models.EntityType, entityID string) (int, error)

	// GetFailedCount counts entries in error state.
	GetFailedCount() (int, error)

	// CountPending counts entries awaiting upload.
	CountPending() (int, error)
}

// MirrorRepository defines the local entity mirror operations.
type MirrorRepository interface {
	UpsertMirror(m *models.EntityMirror) error
	GetMirror(entityType models.EntityType, entityID string) (*models.EntityMirror, error)
	ApplyServerVersion(entityType models.EntityType, entityID string, payload json.RawMessage, updatedAt int64) (bool, error)
	SetMirrorStatus(entityType models.EntityType, entityID string, status models.SyncStatus) error
	GetWatermark(entityType models.EntityType) (int64, error)
}

// StateRepository defines the singleton sync state operations.
type StateRepository interface {
	GetState() (*models.SyncState, error)
	SetLastSync(ts int64) error
	SetLastError(msg string) error
	GetLastBootstrap() (int64, error)
	AdvanceLastBootstrap(ts int64) error
}

// SyncRepository combines everything the sync engine needs from the store.
type SyncRepository interface {
	QueueRepository
	MirrorRepository
	StateRepository
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ QueueRepository  = (*Repository)(nil)
	_ MirrorRepository = (*Repository)(nil)
	_ StateRepository  = (*Repository)(nil)
	_ SyncRepository   = (*Repository)(nil)
)
