// Package models provides data model definitions for the FieldCheck sync core.
package models

import (
	"encoding/json"
	"time"
)

// QueueStatus is the processing state of a queue entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusError      QueueStatus = "error"
)

// QueuedOperation is one pending local mutation awaiting upload.
// Entries are append-only: after enqueue only AttemptCount, LastError and
// Status change, and a row is deleted only on confirmed server success or
// explicit abandonment.
type QueuedOperation struct {
	ID              int64           `db:"id" json:"id"`
	EntityType      EntityType      `db:"entity_type" json:"entity_type"`
	EntityID        string          `db:"entity_id" json:"entity_id"`
	Operation       Operation       `db:"operation" json:"operation"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	ClientUpdatedAt int64           `db:"client_updated_at" json:"client_updated_at"`
	AttemptCount    int             `db:"attempt_count" json:"attempt_count"`
	LastError       string          `db:"last_error" json:"last_error"`
	Status          QueueStatus     `db:"status" json:"status"`
	CreatedAt       int64           `db:"created_at" json:"created_at"`
	UpdatedAt       int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "sync_queue"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (q *QueuedOperation) CreatedAtTime() time.Time {
	return time.Unix(q.CreatedAt, 0)
}
