// Package db provides CRUD repository operations for the sync store.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldcheck/backend/internal/identity"
	"github.com/fieldcheck/backend/internal/models"
)

// Repository implements the store contract the sync engine consumes:
// durable queue operations, entity mirror upserts and the singleton sync
// state row.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Queue operations
// =====================================================

// Enqueue appends a pending mutation to the sync queue and marks the
// entity's mirror row pending. Returns the queue id.
func (r *Repository) Enqueue(entityType models.EntityType, entityID string, op models.Operation, payload json.RawMessage, clientUpdatedAt int64) (int64, error) {
	if !entityType.IsUploadable() {
		return 0, fmt.Errorf("entity type %q is not uploadable", entityType)
	}
	if !op.Valid() {
		return 0, fmt.Errorf("unknown operation %q", op)
	}

	now := time.Now().Unix()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
	INSERT INTO sync_queue (entity_type, entity_id, operation, payload, client_updated_at,
		attempt_count, last_error, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, '', 'pending', ?, ?)`,
		entityType, entityID, op, string(payload), clientUpdatedAt, now, now)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		"UPDATE entity_mirror SET sync_status = 'pending' WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID); err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

const queueColumns = `id, entity_type, entity_id, operation, payload, client_updated_at,
	attempt_count, last_error, status, created_at, updated_at`

func scanQueueRows(rows *sql.Rows) ([]*models.QueuedOperation, error) {
	var ops []*models.QueuedOperation
	for rows.Next() {
		var op models.QueuedOperation
		var payload string
		if err := rows.Scan(&op.ID, &op.EntityType, &op.EntityID, &op.Operation, &payload,
			&op.ClientUpdatedAt, &op.AttemptCount, &op.LastError, &op.Status,
			&op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// ListPending returns all queue entries not currently in flight, in id
// order. Queue ids are monotonically increasing, so id order is FIFO per
// entity. Entries in error state are included; the engine decides which
// are still below the attempt ceiling.
func (r *Repository) ListPending() ([]*models.QueuedOperation, error) {
	stmt, err := r.PrepareStmt(`
	SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status IN ('pending', 'error') ORDER BY id`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// ListFailed returns queue entries in error state, in id order.
func (r *Repository) ListFailed() ([]*models.QueuedOperation, error) {
	stmt, err := r.PrepareStmt(`
	SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status = 'error' ORDER BY id`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// MarkProcessing moves the given queue entries and their mirror rows into
// the in-flight state. Processing is a short-lived, single-cycle lock.
func (r *Repository) MarkProcessing(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, id := range ids {
		if _, err := tx.Exec(
			"UPDATE sync_queue SET status = 'processing', updated_at = ? WHERE id = ?", now, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`
		UPDATE entity_mirror SET sync_status = 'processing'
		WHERE (entity_type, entity_id) IN (SELECT entity_type, entity_id FROM sync_queue WHERE id = ?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RevertProcessing returns in-flight entries to pending without touching
// attempt counts. Used when a batch was never delivered (network failure).
func (r *Repository) RevertProcessing(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, id := range ids {
		if _, err := tx.Exec(`
		UPDATE sync_queue SET status = CASE WHEN attempt_count > 0 THEN 'error' ELSE 'pending' END,
			updated_at = ? WHERE id = ?`, now, id); err != nil {
			return err
		}
		// The mirror row tracks the queue entry: a previously failed entry
		// returns to error, a never-attempted one to pending.
		if _, err := tx.Exec(`
		UPDATE entity_mirror SET sync_status = (
			SELECT CASE WHEN attempt_count > 0 THEN 'error' ELSE 'pending' END
			FROM sync_queue WHERE id = ?)
		WHERE (entity_type, entity_id) IN (SELECT entity_type, entity_id FROM sync_queue WHERE id = ?)`,
			id, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkSynced deletes the queue entry after confirmed server success and
// marks the mirror row synced. Deleting here is the only path besides
// explicit abandonment that removes a queue entry.
func (r *Repository) MarkSynced(queueID int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var entityType, entityID string
	err = tx.QueryRow(
		"SELECT entity_type, entity_id FROM sync_queue WHERE id = ?", queueID).
		Scan(&entityType, &entityID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", queueID); err != nil {
		return err
	}

	// Only flip to synced when no other mutation for the entity remains
	// queued; a later queued update keeps the row pending.
	if _, err := tx.Exec(`
	UPDATE entity_mirror SET sync_status = 'synced'
	WHERE entity_type = ? AND entity_id = ?
	  AND NOT EXISTS (SELECT 1 FROM sync_queue WHERE entity_type = ? AND entity_id = ?)`,
		entityType, entityID, entityType, entityID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkFailed records a per-item server rejection: attempt count is
// incremented, the error message stored, and the entry kept for retry.
func (r *Repository) MarkFailed(queueID int64, errMsg string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.Exec(`
	UPDATE sync_queue SET status = 'error', attempt_count = attempt_count + 1,
		last_error = ?, updated_at = ? WHERE id = ?`, errMsg, now, queueID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
	UPDATE entity_mirror SET sync_status = 'error'
	WHERE (entity_type, entity_id) IN (SELECT entity_type, entity_id FROM sync_queue WHERE id = ?)`, queueID); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetFailed clears attempt bookkeeping on one failed entry.
func (r *Repository) ResetFailed(queueID int64) error {
	now := time.Now().Unix()
	res, err := r.db.Exec(`
	UPDATE sync_queue SET status = 'pending', attempt_count = 0, last_error = '', updated_at = ?
	WHERE id = ? AND status = 'error'`, now, queueID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue entry %d not found or not in error state", queueID)
	}
	return nil
}

// ResetAllFailed clears attempt bookkeeping on every failed entry and
// returns how many were reset.
func (r *Repository) ResetAllFailed() (int, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(`
	UPDATE sync_queue SET status = 'pending', attempt_count = 0, last_error = '', updated_at = ?
	WHERE status = 'error'`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteForEntity removes every queue entry for one entity. Used by
// conflict resolution (keep_server) and explicit abandonment.
func (r *Repository) DeleteForEntity(entityType models.EntityType, entityID string) (int, error) {
	res, err := r.db.Exec(
		"DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?", entityType, entityID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetFailedCount returns the number of queue entries in error state.
func (r *Repository) GetFailedCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sync_queue WHERE status = 'error'").Scan(&count)
	return count, err
}

// CountPending returns the number of queue entries awaiting upload.
func (r *Repository) CountPending() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'error')").Scan(&count)
	return count, err
}

// =====================================================
// Entity mirror operations
// =====================================================

// UpsertMirror writes a local entity snapshot.
func (r *Repository) UpsertMirror(m *models.EntityMirror) error {
	if !m.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", m.EntityType)
	}

	_, err := r.db.Exec(`
	INSERT INTO entity_mirror (entity_type, entity_id, payload, updated_at, sync_status)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status`,
		m.EntityType, m.EntityID, string(m.Payload), m.UpdatedAt, m.SyncStatus)
	return err
}

// GetMirror returns one mirror row, or nil when the entity is unknown
// locally.
func (r *Repository) GetMirror(entityType models.EntityType, entityID string) (*models.EntityMirror, error) {
	stmt, err := r.PrepareStmt(`
	SELECT entity_type, entity_id, payload, updated_at, sync_status
	FROM entity_mirror WHERE entity_type = ? AND entity_id = ?`)
	if err != nil {
		return nil, err
	}

	var m models.EntityMirror
	var payload string
	err = stmt.QueryRow(entityType, entityID).Scan(
		&m.EntityType, &m.EntityID, &payload, &m.UpdatedAt, &m.SyncStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Payload = json.RawMessage(payload)
	return &m, nil
}

// ApplyServerVersion merges a downloaded server snapshot into the mirror.
// Rows owned by a pending or in-flight local mutation are left untouched,
// as is any entity with a queued operation: a stale server read must never
// clobber a local change awaiting upload. Returns whether the row was
// written.
func (r *Repository) ApplyServerVersion(entityType models.EntityType, entityID string, payload json.RawMessage, updatedAt int64) (bool, error) {
	res, err := r.db.Exec(`
	INSERT INTO entity_mirror (entity_type, entity_id, payload, updated_at, sync_status)
	SELECT ?, ?, ?, ?, 'synced'
	WHERE NOT EXISTS (SELECT 1 FROM sync_queue WHERE entity_type = ? AND entity_id = ?)
	ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		sync_status = 'synced'
	WHERE entity_mirror.sync_status NOT IN ('pending', 'processing')
	  AND entity_mirror.updated_at <= excluded.updated_at`,
		entityType, entityID, string(payload), updatedAt, entityType, entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetMirrorStatus updates only the sync status of a mirror row.
func (r *Repository) SetMirrorStatus(entityType models.EntityType, entityID string, status models.SyncStatus) error {
	_, err := r.db.Exec(
		"UPDATE entity_mirror SET sync_status = ? WHERE entity_type = ? AND entity_id = ?",
		status, entityType, entityID)
	return err
}

// GetWatermark returns the newest server-confirmed updated_at for one
// entity type. The download phase pulls everything newer than this.
func (r *Repository) GetWatermark(entityType models.EntityType) (int64, error) {
	var watermark sql.NullInt64
	err := r.db.QueryRow(
		"SELECT MAX(updated_at) FROM entity_mirror WHERE entity_type = ? AND sync_status = 'synced'",
		entityType).Scan(&watermark)
	if err != nil {
		return 0, err
	}
	if !watermark.Valid {
		return 0, nil
	}
	return watermark.Int64, nil
}

// =====================================================
// Sync state operations
// =====================================================

// GetState returns the singleton sync state row, creating it with a fresh
// device id on first access.
func (r *Repository) GetState() (*models.SyncState, error) {
	var state models.SyncState
	err := r.db.QueryRow(
		"SELECT device_id, last_sync_at, last_error FROM sync_state WHERE id = 1").
		Scan(&state.DeviceID, &state.LastSyncAt, &state.LastError)
	if err == sql.ErrNoRows {
		state.DeviceID = identity.NewDeviceID()
		_, err = r.db.Exec(
			"INSERT INTO sync_state (id, device_id, last_sync_at, last_error) VALUES (1, ?, 0, '')",
			state.DeviceID)
		if err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SetLastSync records a successful cycle completion and clears the last
// error.
func (r *Repository) SetLastSync(ts int64) error {
	_, err := r.db.Exec(
		"UPDATE sync_state SET last_sync_at = ?, last_error = '' WHERE id = 1", ts)
	return err
}

// SetLastError records the most recent unrecovered error.
func (r *Repository) SetLastError(msg string) error {
	_, err := r.db.Exec("UPDATE sync_state SET last_error = ? WHERE id = 1", msg)
	return err
}

// GetLastBootstrap returns the newest server timestamp a bootstrap
// download confirmed, 0 before the first non-empty bootstrap.
func (r *Repository) GetLastBootstrap() (int64, error) {
	var ts int64
	err := r.db.QueryRow("SELECT COALESCE(MAX(last_bootstrap_at), 0) FROM sync_state").Scan(&ts)
	return ts, err
}

// AdvanceLastBootstrap raises the bootstrap watermark. It never moves
// backwards; server timestamps arrive unordered across entity types.
func (r *Repository) AdvanceLastBootstrap(ts int64) error {
	_, err := r.db.Exec(
		"UPDATE sync_state SET last_bootstrap_at = MAX(last_bootstrap_at, ?) WHERE id = 1", ts)
	return err
}
