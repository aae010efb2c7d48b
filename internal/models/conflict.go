// Package models provides data model definitions for the FieldCheck sync core.
package models

import (
	"encoding/json"
	"time"
)

// ConflictResolution selects how a detected conflict is settled.
type ConflictResolution string

const (
	// ResolutionKeepLocal re-enqueues the local payload as a fresh update.
	ResolutionKeepLocal ConflictResolution = "keep_local"

	// ResolutionKeepServer discards the local queue entry and overwrites
	// the mirror row with the server version.
	ResolutionKeepServer ConflictResolution = "keep_server"

	// ResolutionMerge is reserved for a future field-level merge strategy.
	ResolutionMerge ConflictResolution = "merge"
)

// Valid reports whether the resolution is a known kind.
func (r ConflictResolution) Valid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepServer, ResolutionMerge:
		return true
	}
	return false
}

// SyncConflict records a diverging concurrent edit detected during an
// upload: the server changed the entity after the local snapshot was
// taken. Conflicts are cycle-ephemeral; they are not persisted and are
// re-detected on the next upload attempt if left unresolved.
type SyncConflict struct {
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	LocalVersion    json.RawMessage `json:"local_version"`
	ServerVersion   json.RawMessage `json:"server_version"`
	LocalUpdatedAt  int64           `json:"local_updated_at"`
	ServerUpdatedAt int64           `json:"server_updated_at"`
	DetectedAt      int64           `json:"detected_at"`
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *SyncConflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
