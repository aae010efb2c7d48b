// Package remote implements the client for the FieldCheck sync endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/fieldcheck/backend/internal/errors"
)

// Client is the sync endpoint contract the engine consumes.
type Client interface {
	// Upload sends one batch of queued mutations.
	Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error)

	// Bootstrap pulls reference data and server entities newer than since.
	Bootstrap(ctx context.Context, since time.Time) (*BootstrapResponse, error)

	// HealthURL returns the URL the network monitor probes.
	HealthURL() string
}

// HTTPClient talks JSON over HTTP to the sync endpoint.
type HTTPClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given base URL. A zero timeout
// defaults to 30 seconds.
func NewHTTPClient(baseURL, authToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// HealthURL implements Client.
func (c *HTTPClient) HealthURL() string {
	return c.baseURL + "/api/v1/health"
}

// Upload implements Client. Transport-level failures come back as
// retryable SYNC_ERROR: the batch was never acknowledged, so no queue
// entry may be penalized.
func (c *HTTPClient) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode upload batch", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/sync/upload", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to build upload request", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSync, "upload request failed", err).AsRetryable()
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, apperrors.ErrUploadRejected); err != nil {
		return nil, err
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSync, "failed to decode upload response", err)
	}
	return &out, nil
}

// Bootstrap implements Client.
func (c *HTTPClient) Bootstrap(ctx context.Context, since time.Time) (*BootstrapResponse, error) {
	u := c.baseURL + "/api/v1/sync/bootstrap"
	if !since.IsZero() {
		u += "?" + url.Values{"since": {strconv.FormatInt(since.Unix(), 10)}}.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to build bootstrap request", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBootstrapFailed, "bootstrap request failed", err).AsRetryable()
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, apperrors.ErrBootstrapFailed); err != nil {
		return nil, err
	}

	var out BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBootstrapFailed, "failed to decode bootstrap response", err)
	}
	return &out, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")
}

// checkStatus classifies non-2xx responses: 5xx and 429 are retryable,
// other 4xx are permanent.
func checkStatus(resp *http.Response, code apperrors.ErrorCode) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	appErr := apperrors.Newf(code, "server returned %d: %s", resp.StatusCode, string(snippet))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return appErr.AsRetryable()
	}
	return appErr
}

var _ Client = (*HTTPClient)(nil)

// String implements fmt.Stringer for log context.
func (c *HTTPClient) String() string {
	return fmt.Sprintf("sync-endpoint(%s)", c.baseURL)
}
