// Package flashflowsdk is a minimal typed client for the FlashFlow HTTP API.
package flashflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal FlashFlow HTTP API client.
type Client struct {
	BaseURL       string
	APIKey        string
	BearerToken   string
	CorrelationID string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Video represents the API video model.
type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	VariantID string `json:"variant_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status"`

	ClaimHolder     *string `json:"claim_holder,omitempty"`
	ClaimRole       *string `json:"claim_role,omitempty"`
	ClaimAcquiredAt *string `json:"claim_acquired_at,omitempty"`
	ClaimExpiresAt  *string `json:"claim_expires_at,omitempty"`

	AssignedTo      *string `json:"assigned_to,omitempty"`
	AssignedRole    *string `json:"assigned_role,omitempty"`
	AssignmentState *string `json:"assignment_state,omitempty"`
	AssignedAt      *string `json:"assigned_at,omitempty"`
	AssignedBy      *string `json:"assigned_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuditEvent represents one custody transition.
type AuditEvent struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	VideoID       string         `json:"video_id"`
	EventType     string         `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	ActorID       string         `json:"actor_id"`
	FromHolder    string         `json:"from_holder,omitempty"`
	ToHolder      string         `json:"to_holder,omitempty"`
	FromRole      string         `json:"from_role,omitempty"`
	ToRole        string         `json:"to_role,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Status summarizes the pipeline.
type Status struct {
	VideoCounts  map[string]int `json:"video_counts"`
	ActiveClaims []Video        `json:"active_claims"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// CreateVideo registers a video. The server may return an existing
// pickup-eligible video for the same variant and account.
func (c *Client) CreateVideo(ctx context.Context, title, variantID, accountID string) (Video, error) {
	body := map[string]any{"title": title}
	if variantID != "" {
		body["variant_id"] = variantID
	}
	if accountID != "" {
		body["account_id"] = accountID
	}
	var resp Video
	err := c.do(ctx, http.MethodPost, "v1/videos", body, &resp)
	return resp, err
}

// GetVideo fetches a video by id.
func (c *Client) GetVideo(ctx context.Context, videoID string) (Video, error) {
	var resp Video
	err := c.do(ctx, http.MethodGet, c.videoPath(videoID, ""), nil, &resp)
	return resp, err
}

// ListVideos returns videos, optionally filtered by status.
func (c *Client) ListVideos(ctx context.Context, status string, limit int) ([]Video, error) {
	endpoint := "v1/videos"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Video
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Claim acquires a lease on a video.
func (c *Client) Claim(ctx context.Context, videoID, role string, ttlMinutes int) (Video, error) {
	body := map[string]any{"role": role}
	if ttlMinutes > 0 {
		body["ttl_minutes"] = ttlMinutes
	}
	var resp Video
	err := c.do(ctx, http.MethodPost, c.videoPath(videoID, "claim"), body, &resp)
	return resp, err
}

// Release clears the caller's lease.
func (c *Client) Release(ctx context.Context, videoID string, force bool) (Video, error) {
	var resp Video
	err := c.do(ctx, http.MethodPost, c.videoPath(videoID, "release"), map[string]any{"force": force}, &resp)
	return resp, err
}

// Handoff transfers the lease to another worker and records the assignment.
func (c *Client) Handoff(ctx context.Context, videoID, toUserID, toRole, notes string) (Video, error) {
	body := map[string]any{
		"to_user_id": toUserID,
		"to_role":    toRole,
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Video
	err := c.do(ctx, http.MethodPost, c.videoPath(videoID, "handoff"), body, &resp)
	return resp, err
}

// CompleteAssignment marks the caller's assignment completed.
func (c *Client) CompleteAssignment(ctx context.Context, videoID string, force bool) (Video, error) {
	var resp Video
	err := c.do(ctx, http.MethodPost, c.videoPath(videoID, "complete-assignment"), map[string]any{"force": force}, &resp)
	return resp, err
}

// Audit returns the audit trail for a video, newest first.
func (c *Client) Audit(ctx context.Context, videoID string, limit int) ([]AuditEvent, error) {
	endpoint := c.videoPath(videoID, "audit")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []AuditEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns pipeline counts and active claims.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v1/status", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", c.CorrelationID)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) videoPath(videoID, suffix string) string {
	p := fmt.Sprintf("v1/videos/%s", url.PathEscape(videoID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
