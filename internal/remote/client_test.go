package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/fieldcheck/backend/internal/errors"
	"github.com/fieldcheck/backend/internal/models"
)

func TestUploadSendsBatchAndAuth(t *testing.T) {
	var gotReq UploadRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		json.NewEncoder(w).Encode(UploadResponse{
			Stats:     UploadStats{Total: 1, Succeeded: 1},
			SyncedIDs: []string{"r-1"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token-123", time.Second)

	resp, err := c.Upload(context.Background(), &UploadRequest{
		Items: []UploadItem{{
			EntityType:      models.EntityReport,
			EntityID:        "r-1",
			Operation:       models.OperationCreate,
			Payload:         json.RawMessage(`{"id":"r-1"}`),
			ClientUpdatedAt: 100,
		}},
		DeviceID:      "device-1",
		SyncTimestamp: 200,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if gotAuth != "Bearer token-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.DeviceID != "device-1" || len(gotReq.Items) != 1 {
		t.Errorf("request body = %+v", gotReq)
	}
	if len(resp.SyncedIDs) != 1 || resp.SyncedIDs[0] != "r-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestUploadTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewHTTPClient(srv.URL, "", time.Second)

	_, err := c.Upload(context.Background(), &UploadRequest{DeviceID: "d"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !apperrors.IsRetryable(err) {
		t.Error("transport failures must be retryable")
	}
	if !apperrors.Is(err, apperrors.ErrSync) {
		t.Errorf("code should be SYNC_ERROR: %v", err)
	}
}

func TestUploadStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		c := NewHTTPClient(srv.URL, "", time.Second)
		_, err := c.Upload(context.Background(), &UploadRequest{DeviceID: "d"})
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if got := apperrors.IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestBootstrapSinceParameter(t *testing.T) {
	var gotSince string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/bootstrap" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotSince = r.URL.Query().Get("since")

		json.NewEncoder(w).Encode(BootstrapResponse{
			Checklists: []Envelope{{ID: "c-1", UpdatedAt: 10, Data: json.RawMessage(`{}`)}},
			Reports:    []Envelope{{ID: "r-1", UpdatedAt: 20, Data: json.RawMessage(`{}`)}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)

	resp, err := c.Bootstrap(context.Background(), time.Unix(12345, 0))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if gotSince != "12345" {
		t.Errorf("since = %q, want 12345", gotSince)
	}
	if len(resp.Checklists) != 1 || len(resp.Reports) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestBootstrapZeroSinceOmitsParameter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("since") {
			t.Error("zero watermark should omit since")
		}
		json.NewEncoder(w).Encode(BootstrapResponse{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	if _, err := c.Bootstrap(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
}

func TestHealthURL(t *testing.T) {
	c := NewHTTPClient("https://sync.example.com", "", 0)
	if got := c.HealthURL(); got != "https://sync.example.com/api/v1/health" {
		t.Errorf("HealthURL = %s", got)
	}
}
