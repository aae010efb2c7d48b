package conflict

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/fieldcheck/backend/internal/errors"
	"github.com/fieldcheck/backend/internal/models"
)

// fakeStore records resolution side effects.
type fakeStore struct {
	enqueued []enqueuedOp
	deleted  []string
	mirrors  []*models.EntityMirror
	failNext error
}

type enqueuedOp struct {
	entityType models.EntityType
	entityID   string
	op         models.Operation
	payload    string
	updatedAt  int64
}

func (s *fakeStore) Enqueue(et models.EntityType, id string, op models.Operation, payload json.RawMessage, updatedAt int64) (int64, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return 0, err
	}
	s.enqueued = append(s.enqueued, enqueuedOp{et, id, op, string(payload), updatedAt})
	return int64(len(s.enqueued)), nil
}

func (s *fakeStore) DeleteForEntity(et models.EntityType, id string) (int, error) {
	s.deleted = append(s.deleted, string(et)+"/"+id)
	return 1, nil
}

func (s *fakeStore) UpsertMirror(m *models.EntityMirror) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.mirrors = append(s.mirrors, m)
	return nil
}

func conflictFor(id string) models.SyncConflict {
	return models.SyncConflict{
		EntityType:      models.EntityReport,
		EntityID:        id,
		LocalVersion:    json.RawMessage(`{"title":"local"}`),
		ServerVersion:   json.RawMessage(`{"title":"server"}`),
		LocalUpdatedAt:  100,
		ServerUpdatedAt: 200,
	}
}

func TestIngestAndActive(t *testing.T) {
	r := NewResolver(&fakeStore{})

	active := r.Ingest([]models.SyncConflict{conflictFor("z")})
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if active[0].DetectedAt == 0 {
		t.Error("DetectedAt should be stamped on ingest")
	}

	if _, ok := r.Get(models.EntityReport, "z"); !ok {
		t.Error("conflict should be retrievable")
	}
	if _, ok := r.Get(models.EntityReport, "other"); ok {
		t.Error("unknown entity should not be active")
	}
}

func TestBeginClearsSet(t *testing.T) {
	r := NewResolver(&fakeStore{})
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	r.Begin()

	if len(r.Active()) != 0 {
		t.Error("Begin should clear the active set")
	}
}

func TestResolveKeepServer(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store)
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepServer)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !applied {
		t.Fatal("first resolve should apply")
	}

	if len(store.deleted) != 1 || store.deleted[0] != "report/z" {
		t.Errorf("queue entries not deleted: %v", store.deleted)
	}
	if len(store.mirrors) != 1 {
		t.Fatalf("mirror writes = %d, want 1", len(store.mirrors))
	}

	m := store.mirrors[0]
	if string(m.Payload) != `{"title":"server"}` {
		t.Errorf("mirror payload = %s, want server version", m.Payload)
	}
	if m.SyncStatus != models.SyncStatusSynced {
		t.Errorf("mirror status = %s, want synced", m.SyncStatus)
	}
	if m.UpdatedAt != 200 {
		t.Errorf("mirror updated_at = %d, want 200", m.UpdatedAt)
	}
}

func TestResolveKeepLocal(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store)
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepLocal)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !applied {
		t.Fatal("first resolve should apply")
	}

	if len(store.mirrors) != 0 {
		t.Error("keep_local must not touch the mirror")
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(store.enqueued))
	}

	e := store.enqueued[0]
	if e.op != models.OperationUpdate {
		t.Errorf("re-enqueued op = %s, want update", e.op)
	}
	if e.payload != `{"title":"local"}` {
		t.Errorf("re-enqueued payload = %s, want local version", e.payload)
	}
	// The deliberate overwrite must win the server's last-write-wins
	// comparison, or the same conflict comes back on every retry.
	if e.updatedAt <= 200 {
		t.Errorf("re-enqueued updatedAt = %d, must exceed the server's %d", e.updatedAt, 200)
	}
}

func TestResolveKeepLocalOutrunsServerClock(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store)

	// Server timestamp far in the future (clock skew).
	c := conflictFor("z")
	c.ServerUpdatedAt = time.Now().Add(time.Hour).Unix()
	r.Ingest([]models.SyncConflict{c})

	if applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepLocal); err != nil || !applied {
		t.Fatalf("Resolve: applied=%v err=%v", applied, err)
	}
	if got := store.enqueued[0].updatedAt; got <= c.ServerUpdatedAt {
		t.Errorf("re-enqueued updatedAt = %d, must exceed skewed server %d", got, c.ServerUpdatedAt)
	}
}

func TestResolveIdempotent(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store)
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	if applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepServer); err != nil || !applied {
		t.Fatalf("first resolve: applied=%v err=%v", applied, err)
	}

	applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepServer)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if applied {
		t.Error("second resolve must be a no-op")
	}
	if len(store.mirrors) != 1 {
		t.Errorf("mirror writes = %d, want exactly 1", len(store.mirrors))
	}
}

func TestResolveMergeNotSupported(t *testing.T) {
	r := NewResolver(&fakeStore{})
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	_, err := r.Resolve(models.EntityReport, "z", models.ResolutionMerge)
	if !apperrors.Is(err, apperrors.ErrMergeNotSupported) {
		t.Errorf("error = %v, want MERGE_NOT_SUPPORTED", err)
	}

	// The conflict stays active for a real resolution.
	if _, ok := r.Get(models.EntityReport, "z"); !ok {
		t.Error("merge attempt must not consume the conflict")
	}
}

func TestResolveUnknownResolution(t *testing.T) {
	r := NewResolver(&fakeStore{})
	if _, err := r.Resolve(models.EntityReport, "z", models.ConflictResolution("discard")); err == nil {
		t.Error("unknown resolution should error")
	}
}

func TestResolveStoreFailureRestoresConflict(t *testing.T) {
	store := &fakeStore{failNext: errors.New("disk full")}
	r := NewResolver(store)
	r.Ingest([]models.SyncConflict{conflictFor("z")})

	if _, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepServer); err == nil {
		t.Fatal("expected store failure")
	}

	// Failed resolution keeps the conflict so the operator can retry.
	if _, ok := r.Get(models.EntityReport, "z"); !ok {
		t.Error("conflict should be restored after a failed resolution")
	}

	if applied, err := r.Resolve(models.EntityReport, "z", models.ResolutionKeepServer); err != nil || !applied {
		t.Errorf("retry after failure: applied=%v err=%v", applied, err)
	}
}
