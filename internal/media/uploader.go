// Package media uploads photo binaries to server-presigned URLs.
//
// The sync batch carries only photo metadata; when the server wants the
// bytes it answers with a presigned upload URL per photo and the uploader
// PUTs the binary there. File access goes through a caller-supplied Source
// because storage paths belong to the UI layer.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/fieldcheck/backend/internal/errors"
)

// Source resolves a photo entity id to its binary content.
type Source interface {
	// Open returns the photo bytes and content type for the entity.
	Open(ctx context.Context, entityID string) (io.ReadCloser, string, error)
}

// Uploader PUTs photo binaries to presigned URLs.
type Uploader struct {
	source     Source
	httpClient *http.Client
}

// NewUploader creates an Uploader. A nil client gets a 60s-timeout default
// sized for photo payloads on mobile links.
func NewUploader(source Source, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	return &Uploader{source: source, httpClient: client}
}

// Upload PUTs one photo to its presigned URL. Transport failures and 5xx
// come back retryable; 4xx (expired or invalid presigned URL) permanent.
func (u *Uploader) Upload(ctx context.Context, entityID, uploadURL string) error {
	rc, contentType, err := u.source.Open(ctx, entityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMediaUpload,
			fmt.Sprintf("failed to open photo %s", entityID), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMediaUpload,
			fmt.Sprintf("failed to read photo %s", entityID), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMediaUpload, "failed to build upload request", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMediaUpload,
			fmt.Sprintf("photo upload failed for %s", entityID), err).AsRetryable()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		appErr := apperrors.Newf(apperrors.ErrMediaUpload,
			"photo upload for %s returned %d: %s", entityID, resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return appErr.AsRetryable()
		}
		return appErr
	}
	return nil
}
