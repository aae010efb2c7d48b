// Package remote implements the client for the FieldCheck sync endpoint.
package remote

import (
	"encoding/json"

	"github.com/fieldcheck/backend/internal/models"
)

// UploadItem is one queued mutation in an upload batch.
type UploadItem struct {
	EntityType      models.EntityType `json:"entityType"`
	EntityID        string            `json:"entityId"`
	Operation       models.Operation  `json:"operation"`
	Payload         json.RawMessage   `json:"payload"`
	ClientUpdatedAt int64             `json:"clientUpdatedAt"`
}

// UploadRequest is the batch upload body. One request per sync cycle.
type UploadRequest struct {
	Items         []UploadItem `json:"items"`
	DeviceID      string       `json:"deviceId"`
	SyncTimestamp int64        `json:"syncTimestamp"`
}

// UploadStats summarizes the server's per-item outcomes.
type UploadStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// FailedItem is a per-item server rejection.
type FailedItem struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ConflictItem reports a diverging concurrent edit. The server includes
// its own snapshot so the client can resolve without another round trip.
type ConflictItem struct {
	EntityType      models.EntityType `json:"entityType"`
	EntityID        string            `json:"entityId"`
	ServerUpdatedAt int64             `json:"serverUpdatedAt"`
	ClientUpdatedAt int64             `json:"clientUpdatedAt"`
	ServerPayload   json.RawMessage   `json:"serverPayload"`
}

// PendingPhotoUpload asks the client to PUT photo bytes to a presigned URL.
type PendingPhotoUpload struct {
	EntityID  string `json:"entityId"`
	UploadURL string `json:"uploadUrl"`
}

// UploadResponse is the server's answer to an upload batch.
type UploadResponse struct {
	Stats               UploadStats          `json:"stats"`
	SyncedIDs           []string             `json:"syncedIds"`
	Failed              []FailedItem         `json:"failed"`
	Conflicts           []ConflictItem       `json:"conflicts"`
	PendingPhotoUploads []PendingPhotoUpload `json:"pendingPhotoUploads"`
}

// Envelope wraps one downloaded entity snapshot.
type Envelope struct {
	ID        string          `json:"id"`
	UpdatedAt int64           `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

// BootstrapResponse carries reference data and server-side entities newer
// than the requested watermark.
type BootstrapResponse struct {
	Checklists []Envelope `json:"checklists"`
	Templates  []Envelope `json:"templates"`
	Reports    []Envelope `json:"reports"`
}
