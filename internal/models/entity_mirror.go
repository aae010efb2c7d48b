// Package models provides data model definitions for the FieldCheck sync core.
package models

import "encoding/json"

// EntityMirror is the local copy of one remote entity. The payload is the
// full serialized snapshot; the engine never interprets entity fields
// beyond the sync bookkeeping columns.
type EntityMirror struct {
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
	SyncStatus SyncStatus      `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for EntityMirror.
func (EntityMirror) TableName() string {
	return "entity_mirror"
}
