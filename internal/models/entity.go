// Package models provides data model definitions for the FieldCheck sync core.
package models

// EntityType identifies one of the syncable entity kinds.
// The set is closed; the server rejects unknown types.
type EntityType string

const (
	EntityReport     EntityType = "report"
	EntityPhoto      EntityType = "photo"
	EntityDefect     EntityType = "defect"
	EntityElement    EntityType = "element"
	EntityCompliance EntityType = "compliance"

	// Reference kinds are server-authoritative and only ever downloaded.
	EntityChecklist EntityType = "checklist"
	EntityTemplate  EntityType = "template"
)

// UploadOrder is the phase order used when building an upload batch.
// Reports go first so that child rows (photos, defects) never arrive
// before the report they belong to.
var UploadOrder = []EntityType{
	EntityReport,
	EntityPhoto,
	EntityDefect,
	EntityElement,
	EntityCompliance,
}

// IsUploadable reports whether the entity type participates in uploads.
func (t EntityType) IsUploadable() bool {
	for _, u := range UploadOrder {
		if t == u {
			return true
		}
	}
	return false
}

// Valid reports whether the entity type is a known kind.
func (t EntityType) Valid() bool {
	switch t {
	case EntityReport, EntityPhoto, EntityDefect, EntityElement,
		EntityCompliance, EntityChecklist, EntityTemplate:
		return true
	}
	return false
}

// Operation is the kind of local mutation recorded in the queue.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether the operation is a known kind.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncStatus tracks a mirror row through the sync lifecycle.
// Transitions: draft -> pending -> processing -> synced | error.
type SyncStatus string

const (
	SyncStatusDraft      SyncStatus = "draft"
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusError      SyncStatus = "error"
)

// Locked reports whether the row is owned by an in-flight or queued local
// mutation and must not be overwritten by a downloaded server version.
func (s SyncStatus) Locked() bool {
	return s == SyncStatusPending || s == SyncStatusProcessing
}
