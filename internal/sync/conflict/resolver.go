// Package conflict resolves diverging concurrent edits detected during
// upload.
//
// A conflict exists when the server changed an entity after the local
// snapshot awaiting upload was taken. The unit of conflict is the whole
// entity; field-level merge is a future strategy.
package conflict

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/fieldcheck/backend/internal/errors"
	"github.com/fieldcheck/backend/internal/logging"
	"github.com/fieldcheck/backend/internal/models"
)

// Errors
var (
	ErrMergeNotSupported = apperrors.New(apperrors.ErrMergeNotSupported,
		"merge resolution is not supported yet")
	ErrInvalidResolution = apperrors.New(apperrors.ErrInvalid,
		"unknown conflict resolution")
)

// Store is the slice of the local store conflict resolution mutates.
type Store interface {
	Enqueue(entityType models.EntityType, entityID string, op models.Operation, payload json.RawMessage, clientUpdatedAt int64) (int64, error)
	DeleteForEntity(entityType models.EntityType, entityID string) (int, error)
	UpsertMirror(m *models.EntityMirror) error
}

// Resolver holds the conflicts of the current sync cycle and applies
// operator-selected resolutions. Conflicts are cycle-ephemeral: the set is
// rebuilt by each cycle's detection, and an unresolved conflict reappears
// because its queue entry survives and is re-sent.
type Resolver struct {
	store Store

	mu     sync.Mutex
	active map[string]*models.SyncConflict
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		active: make(map[string]*models.SyncConflict),
	}
}

func key(entityType models.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

// Begin discards the previous cycle's conflict set.
func (r *Resolver) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]*models.SyncConflict)
}

// Ingest records the conflicts detected by one upload batch and returns
// the full active set.
func (r *Resolver) Ingest(conflicts []models.SyncConflict) []models.SyncConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	for i := range conflicts {
		c := conflicts[i]
		if c.DetectedAt == 0 {
			c.DetectedAt = now
		}
		r.active[key(c.EntityType, c.EntityID)] = &c

		logging.L().Warn("concurrent edit conflict detected",
			zap.String("entity_type", string(c.EntityType)),
			zap.String("entity_id", c.EntityID),
			zap.Int64("local_updated_at", c.LocalUpdatedAt),
			zap.Int64("server_updated_at", c.ServerUpdatedAt))
	}

	return r.snapshotLocked()
}

// Active returns a snapshot of the unresolved conflicts.
func (r *Resolver) Active() []models.SyncConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Resolver) snapshotLocked() []models.SyncConflict {
	out := make([]models.SyncConflict, 0, len(r.active))
	for _, c := range r.active {
		out = append(out, *c)
	}
	return out
}

// Get returns one active conflict, if present.
func (r *Resolver) Get(entityType models.EntityType, entityID string) (*models.SyncConflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.active[key(entityType, entityID)]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// Resolve applies the operator's choice for one conflicted entity and
// removes it from the active set. Resolving is idempotent: once a conflict
// is gone, a second call is a no-op and returns applied=false.
func (r *Resolver) Resolve(entityType models.EntityType, entityID string, resolution models.ConflictResolution) (bool, error) {
	if !resolution.Valid() {
		return false, ErrInvalidResolution
	}
	if resolution == models.ResolutionMerge {
		return false, ErrMergeNotSupported
	}

	r.mu.Lock()
	c, ok := r.active[key(entityType, entityID)]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	// Remove before applying so a concurrent second call no-ops.
	delete(r.active, key(entityType, entityID))
	r.mu.Unlock()

	var err error
	switch resolution {
	case models.ResolutionKeepLocal:
		err = r.keepLocal(c)
	case models.ResolutionKeepServer:
		err = r.keepServer(c)
	}
	if err != nil {
		// Put the conflict back so the operator can retry the resolution.
		r.mu.Lock()
		r.active[key(entityType, entityID)] = c
		r.mu.Unlock()
		return false, err
	}

	logging.L().Info("conflict resolved",
		zap.String("entity_type", string(c.EntityType)),
		zap.String("entity_id", c.EntityID),
		zap.String("resolution", string(resolution)))
	return true, nil
}

// keepLocal discards the server version and re-enqueues the local payload
// as a fresh update so the next cycle re-attempts the upload. The entry is
// stamped with the resolution time, newer than the server version: the
// original local timestamp already lost the last-write-wins comparison
// once and would re-trigger the same conflict on every retry.
func (r *Resolver) keepLocal(c *models.SyncConflict) error {
	resolvedAt := time.Now().Unix()
	if resolvedAt <= c.ServerUpdatedAt {
		resolvedAt = c.ServerUpdatedAt + 1
	}

	if _, err := r.store.DeleteForEntity(c.EntityType, c.EntityID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to drop stale queue entries", err)
	}
	if _, err := r.store.Enqueue(c.EntityType, c.EntityID, models.OperationUpdate,
		c.LocalVersion, resolvedAt); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to re-enqueue local version", err)
	}
	return nil
}

// keepServer discards the local queue entries and overwrites the mirror
// row with the server version.
func (r *Resolver) keepServer(c *models.SyncConflict) error {
	if _, err := r.store.DeleteForEntity(c.EntityType, c.EntityID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to drop local queue entries", err)
	}
	if err := r.store.UpsertMirror(&models.EntityMirror{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Payload:    c.ServerVersion,
		UpdatedAt:  c.ServerUpdatedAt,
		SyncStatus: models.SyncStatusSynced,
	}); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to apply server version", err)
	}
	return nil
}
