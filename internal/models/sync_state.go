// Package models provides data model definitions for the FieldCheck sync core.
package models

import "time"

// SyncState is the process-wide sync status. DeviceID, LastSyncAt and
// LastError are persisted in the singleton sync_state row; IsOnline,
// IsSyncing and the pending counts are derived at read time.
type SyncState struct {
	DeviceID         string `db:"device_id" json:"device_id"`
	LastSyncAt       int64  `db:"last_sync_at" json:"last_sync_at"`
	LastError        string `db:"last_error" json:"last_error"`
	IsOnline         bool   `json:"is_online"`
	IsSyncing        bool   `json:"is_syncing"`
	PendingUploads   int    `json:"pending_uploads"`
	PendingDownloads int    `json:"pending_downloads"`
}

// TableName returns the table name for SyncState.
func (SyncState) TableName() string {
	return "sync_state"
}

// LastSyncTime returns LastSyncAt as time.Time, or the zero time when no
// cycle has completed yet.
func (s *SyncState) LastSyncTime() time.Time {
	if s.LastSyncAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.LastSyncAt, 0)
}
