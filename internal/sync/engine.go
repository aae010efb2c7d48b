// Package sync orchestrates offline synchronization with the FieldCheck
// backend: queue draining, batch upload, conflict ingestion, download
// merge and sync state bookkeeping.
package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fieldcheck/backend/internal/db"
	apperrors "github.com/fieldcheck/backend/internal/errors"
	"github.com/fieldcheck/backend/internal/logging"
	"github.com/fieldcheck/backend/internal/media"
	"github.com/fieldcheck/backend/internal/models"
	"github.com/fieldcheck/backend/internal/netmon"
	"github.com/fieldcheck/backend/internal/remote"
	"github.com/fieldcheck/backend/internal/sync/conflict"
)

// DefaultMaxAttempts is the attempt ceiling after which a queue entry is
// held out of automatic cycles until an explicit RetryFailed.
const DefaultMaxAttempts = 5

// Options configures an Engine.
type Options struct {
	// MaxAttempts caps automatic retries per queue entry. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int

	// Media uploads photo binaries to presigned URLs. When nil the binary
	// upload is delegated to the host app and metadata sync proceeds.
	Media *media.Uploader
}

// Engine runs sync cycles. One instance per store; all state is explicit
// and injected, nothing is ambient.
type Engine struct {
	repo        db.SyncRepository
	client      remote.Client
	monitor     netmon.Monitor
	resolver    *conflict.Resolver
	mediaUp     *media.Uploader
	maxAttempts int

	// syncing is the single-flight guard: checked-and-set atomically at
	// the start of Sync and RetryFailed.
	syncing atomic.Bool

	// pendingDownloads counts server envelopes the last download phase
	// could not apply because a local mutation owned the row.
	pendingDownloads atomic.Int64

	observers observers
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(repo db.SyncRepository, client remote.Client, monitor netmon.Monitor, opts Options) *Engine {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		repo:        repo,
		client:      client,
		monitor:     monitor,
		resolver:    conflict.NewResolver(repo),
		mediaUp:     opts.Media,
		maxAttempts: maxAttempts,
	}
}

// Resolver returns the conflict resolver for operator-driven resolution.
func (e *Engine) Resolver() *conflict.Resolver {
	return e.resolver
}

// OnProgress registers a progress observer. Observers are invoked in
// registration order.
func (e *Engine) OnProgress(fn ProgressFunc) { e.observers.addProgress(fn) }

// OnError registers an error observer.
func (e *Engine) OnError(fn ErrorFunc) { e.observers.addError(fn) }

// OnConflict registers a conflict observer.
func (e *Engine) OnConflict(fn ConflictFunc) { e.observers.addConflict(fn) }

// State returns a read-only snapshot of the sync state.
func (e *Engine) State() (*models.SyncState, error) {
	state, err := e.repo.GetState()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read sync state", err)
	}
	state.IsOnline = e.monitor.IsOnline()
	state.IsSyncing = e.syncing.Load()
	if state.PendingUploads, err = e.repo.CountPending(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count pending uploads", err)
	}
	state.PendingDownloads = int(e.pendingDownloads.Load())
	return state, nil
}

// alreadyRunning is the immediate answer for a second concurrent caller.
func alreadyRunning(start time.Time) *SyncResult {
	r := &SyncResult{Timestamp: start}
	r.addError(SyncError{
		Code:      apperrors.ErrSyncInProgress,
		Message:   "a sync cycle is already running",
		Retryable: true,
	})
	return r.finalize(start)
}

// Sync runs one full cycle: drain the queue into a single upload batch,
// apply per-item outcomes, ingest conflicts, then pull and merge server
// state. Errors are collected into the result; only local-store failures
// outside a recoverable phase propagate as a returned error.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	if !e.syncing.CompareAndSwap(false, true) {
		return alreadyRunning(start), nil
	}
	defer e.syncing.Store(false)

	result := &SyncResult{Timestamp: start}

	// Offline is not a failure: nothing to do, the queue is untouched.
	if !e.monitor.IsOnline() {
		logging.L().Debug("sync skipped, device offline")
		return result.finalize(start), nil
	}

	state, err := e.repo.GetState()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read sync state", err)
	}

	e.observers.emitProgress("starting", 0)
	e.resolver.Begin()

	aborted, err := e.uploadPhase(ctx, state.DeviceID, result)
	if err != nil {
		// Local-store failure: fatal to the cycle, surfaced to the caller.
		e.observers.emitError(err)
		_ = e.repo.SetLastError(err.Error())
		return nil, err
	}

	if !aborted {
		e.downloadPhase(ctx, result)
	}

	e.recordOutcome(result)
	result.finalize(start)
	e.observers.emitProgress("done", 100)

	logging.L().Info("sync cycle finished",
		zap.Bool("success", result.Success),
		zap.Int("uploaded", result.Uploaded),
		zap.Int("downloaded", result.Downloaded),
		zap.Int("conflicts", result.Conflicts),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// RetryFailed resets attempt bookkeeping on failed queue entries and
// re-runs the upload phase for those entities only. Entries never
// attempted stay untouched until the next full Sync. Shares the
// single-flight guard with Sync.
func (e *Engine) RetryFailed(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	if !e.syncing.CompareAndSwap(false, true) {
		return alreadyRunning(start), nil
	}
	defer e.syncing.Store(false)

	result := &SyncResult{Timestamp: start}

	if !e.monitor.IsOnline() {
		return result.finalize(start), nil
	}

	failed, err := e.repo.ListFailed()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list failed entries", err)
	}
	if len(failed) == 0 {
		return result.finalize(start), nil
	}

	retryEntities := make(map[string]bool, len(failed))
	for _, op := range failed {
		retryEntities[entityKey(op.EntityType, op.EntityID)] = true
	}

	if _, err := e.repo.ResetAllFailed(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed entries", err)
	}

	state, err := e.repo.GetState()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read sync state", err)
	}

	e.observers.emitProgress("retrying failed", 0)

	if _, err := e.uploadPhaseFiltered(ctx, state.DeviceID, result, retryEntities); err != nil {
		e.observers.emitError(err)
		_ = e.repo.SetLastError(err.Error())
		return nil, err
	}

	e.recordOutcome(result)
	result.finalize(start)
	e.observers.emitProgress("done", 100)
	return result, nil
}

func entityKey(et models.EntityType, id string) string {
	return string(et) + "/" + id
}

// buildBatch selects queue entries for upload in id (FIFO) order. An
// entity whose earlier operation is held at the attempt ceiling has all
// its later operations held too, so a create is never outrun by its own
// update.
func (e *Engine) buildBatch(entries []*models.QueuedOperation, only map[string]bool) []*models.QueuedOperation {
	held := make(map[string]bool)
	var batch []*models.QueuedOperation

	for _, op := range entries {
		k := entityKey(op.EntityType, op.EntityID)
		if held[k] {
			continue
		}
		if only != nil && !only[k] {
			continue
		}
		if op.AttemptCount >= e.maxAttempts {
			held[k] = true
			continue
		}
		batch = append(batch, op)
	}
	return batch
}

// uploadPhase drains the queue into one batch request. Returns
// aborted=true when a batch-level failure should skip the download phase.
// A non-nil error means a local-store failure fatal to the cycle.
func (e *Engine) uploadPhase(ctx context.Context, deviceID string, result *SyncResult) (bool, error) {
	return e.uploadPhaseFiltered(ctx, deviceID, result, nil)
}

func (e *Engine) uploadPhaseFiltered(ctx context.Context, deviceID string, result *SyncResult, only map[string]bool) (bool, error) {
	entries, err := e.repo.ListPending()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending queue", err)
	}

	batch := e.buildBatch(entries, only)
	if len(batch) == 0 {
		return false, nil
	}

	ids := make([]int64, len(batch))
	items := make([]remote.UploadItem, len(batch))
	byEntity := make(map[string][]*models.QueuedOperation)
	for i, op := range batch {
		ids[i] = op.ID
		items[i] = remote.UploadItem{
			EntityType:      op.EntityType,
			EntityID:        op.EntityID,
			Operation:       op.Operation,
			Payload:         op.Payload,
			ClientUpdatedAt: op.ClientUpdatedAt,
		}
		byEntity[entityKey(op.EntityType, op.EntityID)] = append(byEntity[entityKey(op.EntityType, op.EntityID)], op)
	}

	if err := e.repo.MarkProcessing(ids); err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to lock batch entries", err)
	}

	e.emitUploadProgress(batch)

	resp, err := e.client.Upload(ctx, &remote.UploadRequest{
		Items:         items,
		DeviceID:      deviceID,
		SyncTimestamp: time.Now().Unix(),
	})
	if err != nil {
		// The batch was never acknowledged: release every entry without
		// touching attempt counts, distinguishing "never sent" from
		// "sent and rejected".
		if revertErr := e.repo.RevertProcessing(ids); revertErr != nil {
			return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to release batch entries", revertErr)
		}
		result.addError(SyncError{
			Code:      apperrors.ErrSync,
			Message:   err.Error(),
			Retryable: apperrors.IsRetryable(err),
		})
		e.observers.emitError(err)
		logging.L().Warn("batch upload failed", zap.Error(err))
		return true, nil
	}

	return false, e.applyUploadResponse(ctx, resp, byEntity, result)
}

// emitUploadProgress announces the batch composition as coarse phases in
// upload order, with the percent estimate advancing by entity-type share.
func (e *Engine) emitUploadProgress(batch []*models.QueuedOperation) {
	counts := make(map[models.EntityType]int)
	for _, op := range batch {
		counts[op.EntityType]++
	}

	done := 0
	for _, et := range models.UploadOrder {
		n := counts[et]
		if n == 0 {
			continue
		}
		done += n
		// Upload spans 5-60 percent of the cycle estimate; each phase
		// reports its share of the batch.
		percent := 5 + 55*done/len(batch)
		e.observers.emitProgress(fmt.Sprintf("uploading %ss", et), percent)
	}
}

// applyUploadResponse applies the server's per-item outcomes. Returned
// errors are local-store failures.
func (e *Engine) applyUploadResponse(ctx context.Context, resp *remote.UploadResponse, byEntity map[string][]*models.QueuedOperation, result *SyncResult) error {
	photoURLs := make(map[string]string, len(resp.PendingPhotoUploads))
	for _, p := range resp.PendingPhotoUploads {
		photoURLs[p.EntityID] = p.UploadURL
	}
	result.PendingPhotoUploads = resp.PendingPhotoUploads

	settled := make(map[string]bool)

	// Successes delete the queue entries and mark the mirror synced.
	for _, entityID := range resp.SyncedIDs {
		for _, k := range entityKeysFor(byEntity, entityID) {
			ops := byEntity[k]
			settled[k] = true

			// A photo with a presigned URL only counts as synced once its
			// bytes are delivered.
			if url, ok := photoURLs[entityID]; ok && ops[0].EntityType == models.EntityPhoto && e.mediaUp != nil {
				if upErr := e.mediaUp.Upload(ctx, entityID, url); upErr != nil {
					for _, op := range ops {
						if err := e.repo.MarkFailed(op.ID, upErr.Error()); err != nil {
							return apperrors.Wrap(apperrors.ErrDatabase, "failed to record photo upload failure", err)
						}
					}
					result.addError(SyncError{
						Code:       apperrors.ErrMediaUpload,
						EntityType: ops[0].EntityType,
						EntityID:   entityID,
						Message:    upErr.Error(),
						Retryable:  apperrors.IsRetryable(upErr),
					})
					e.observers.emitError(upErr)
					continue
				}
			}

			for _, op := range ops {
				if err := e.repo.MarkSynced(op.ID); err != nil {
					return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark entry synced", err)
				}
			}
			result.Uploaded++
		}
	}

	// Per-item rejections increment the attempt count and keep the entry.
	for _, f := range resp.Failed {
		for _, k := range entityKeysFor(byEntity, f.ID) {
			ops := byEntity[k]
			settled[k] = true
			for _, op := range ops {
				if err := e.repo.MarkFailed(op.ID, f.Error); err != nil {
					return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark entry failed", err)
				}
			}
			result.addError(SyncError{
				Code:       apperrors.ErrUploadRejected,
				EntityType: ops[0].EntityType,
				EntityID:   f.ID,
				Message:    f.Error,
				Retryable:  true,
			})
		}
	}

	// Conflicts are not errors: the entries go back to pending and the
	// conflict set is handed to the resolver and observers.
	var conflicts []models.SyncConflict
	for _, c := range resp.Conflicts {
		k := entityKey(c.EntityType, c.EntityID)
		ops, ok := byEntity[k]
		if !ok {
			continue
		}
		settled[k] = true

		var conflictIDs []int64
		for _, op := range ops {
			conflictIDs = append(conflictIDs, op.ID)
		}
		if err := e.repo.RevertProcessing(conflictIDs); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to release conflicted entries", err)
		}

		// The newest queued snapshot is the local side of the conflict.
		local := ops[len(ops)-1]
		conflicts = append(conflicts, models.SyncConflict{
			EntityType:      c.EntityType,
			EntityID:        c.EntityID,
			LocalVersion:    local.Payload,
			ServerVersion:   c.ServerPayload,
			LocalUpdatedAt:  local.ClientUpdatedAt,
			ServerUpdatedAt: c.ServerUpdatedAt,
		})
	}
	if len(conflicts) > 0 {
		active := e.resolver.Ingest(conflicts)
		result.Conflicts = len(conflicts)
		e.observers.emitConflict(active)
	}

	// Anything the server did not mention was neither confirmed nor
	// rejected; release it for the next cycle.
	var unsettled []int64
	for k, ops := range byEntity {
		if settled[k] {
			continue
		}
		for _, op := range ops {
			unsettled = append(unsettled, op.ID)
		}
	}
	if err := e.repo.RevertProcessing(unsettled); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to release unacknowledged entries", err)
	}

	return nil
}

// entityKeysFor finds the batch keys matching a server-reported entity id.
// The server echoes ids without entity types, and ids are client-minted
// UUIDs, unique across types in practice.
func entityKeysFor(byEntity map[string][]*models.QueuedOperation, entityID string) []string {
	var keys []string
	for k, ops := range byEntity {
		if len(ops) > 0 && ops[0].EntityID == entityID {
			keys = append(keys, k)
		}
	}
	return keys
}

// downloadPhase pulls reference data and server entities newer than the
// local watermark and merges them, never overwriting a pending or
// in-flight local mutation. Failures here are retryable and do not abort
// the cycle's bookkeeping.
func (e *Engine) downloadPhase(ctx context.Context, result *SyncResult) {
	e.observers.emitProgress("downloading", 70)

	since, err := e.downloadWatermark()
	if err != nil {
		result.addError(SyncError{Code: apperrors.ErrDatabase, Message: err.Error(), Retryable: true})
		e.observers.emitError(err)
		return
	}

	resp, err := e.client.Bootstrap(ctx, since)
	if err != nil {
		result.addError(SyncError{
			Code:      apperrors.ErrBootstrapFailed,
			Message:   err.Error(),
			Retryable: apperrors.IsRetryable(err),
		})
		e.observers.emitError(err)
		logging.L().Warn("bootstrap failed", zap.Error(err))
		return
	}

	var skipped, newest int64
	merge := func(et models.EntityType, envelopes []remote.Envelope) {
		for _, env := range envelopes {
			if env.UpdatedAt > newest {
				newest = env.UpdatedAt
			}
			applied, err := e.repo.ApplyServerVersion(et, env.ID, env.Data, env.UpdatedAt)
			if err != nil {
				result.addError(SyncError{
					Code:       apperrors.ErrDatabase,
					EntityType: et,
					EntityID:   env.ID,
					Message:    err.Error(),
					Retryable:  true,
				})
				continue
			}
			if applied {
				result.Downloaded++
			} else {
				skipped++
			}
		}
	}

	merge(models.EntityChecklist, resp.Checklists)
	merge(models.EntityTemplate, resp.Templates)
	merge(models.EntityReport, resp.Reports)

	if newest > 0 {
		if err := e.repo.AdvanceLastBootstrap(newest); err != nil {
			logging.L().Error("failed to record bootstrap watermark", zap.Error(err))
		}
	}
	e.pendingDownloads.Store(skipped)
}

// downloadWatermark returns the oldest per-type watermark so no server
// change is missed. A type with no synced rows falls back to the last
// bootstrap's server timestamp: the server may simply have nothing of
// that kind, and an empty type must not force a full refetch forever.
// Only before the first non-empty bootstrap does anything force since=0.
func (e *Engine) downloadWatermark() (time.Time, error) {
	lastBootstrap, err := e.repo.GetLastBootstrap()
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read bootstrap watermark", err)
	}

	var min int64 = -1
	for _, et := range []models.EntityType{models.EntityChecklist, models.EntityTemplate, models.EntityReport} {
		w, err := e.repo.GetWatermark(et)
		if err != nil {
			return time.Time{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read watermark", err)
		}
		if w == 0 {
			w = lastBootstrap
		}
		if w == 0 {
			return time.Time{}, nil
		}
		if min == -1 || w < min {
			min = w
		}
	}
	if min <= 0 {
		return time.Time{}, nil
	}
	return time.Unix(min, 0), nil
}

// recordOutcome persists lastSyncAt and lastError after a cycle. Partial
// results still update state rather than leaving it inconsistent.
func (e *Engine) recordOutcome(result *SyncResult) {
	if len(result.Errors) == 0 {
		if err := e.repo.SetLastSync(time.Now().Unix()); err != nil {
			logging.L().Error("failed to record sync completion", zap.Error(err))
		}
		return
	}
	if err := e.repo.SetLastError(result.Errors[0].Message); err != nil {
		logging.L().Error("failed to record sync error", zap.Error(err))
	}
}
