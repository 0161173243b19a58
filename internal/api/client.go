// Package api implements the control-plane HTTP client.
//
// All endpoints live under <server>/api and exchange JSON. Non-2xx
// responses surface as *HTTPError so callers can inspect the status.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client talks to the Portabase control plane on behalf of one agent
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
}

// HTTPError is a non-2xx response from the control plane
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// NewClient creates a control-plane client for the given server and agent
func NewClient(serverURL, agentID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/") + "/api",
		agentID: agentID,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// AgentStatus reports the agent inventory and returns the desired state
func (c *Client) AgentStatus(ctx context.Context, req StatusRequest) (*PingResult, error) {
	var result PingResult
	if err := c.do(ctx, http.MethodPost, c.agentPath("status"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BackupCreate registers a new backup run and returns its id
func (c *Client) BackupCreate(ctx context.Context, req BackupCreateRequest) (*BackupResponse, error) {
	var result BackupResponse
	if err := c.do(ctx, http.MethodPost, c.agentPath("backup"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BackupUpdate reports the final status and size of a backup run
func (c *Client) BackupUpdate(ctx context.Context, req BackupUpdateRequest) error {
	return c.do(ctx, http.MethodPatch, c.agentPath("backup"), req, nil)
}

// BackupUploadInit registers an upload attempt for one storage channel
func (c *Client) BackupUploadInit(ctx context.Context, req UploadInitRequest) (*UploadResponse, error) {
	var result UploadResponse
	if err := c.do(ctx, http.MethodPost, c.agentPath("backup/upload/init"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BackupUploadStatus reports the outcome of one upload attempt
func (c *Client) BackupUploadStatus(ctx context.Context, req UploadStatusRequest) error {
	return c.do(ctx, http.MethodPatch, c.agentPath("backup/upload/status"), req, nil)
}

// RestoreResult reports the outcome of a restore run
func (c *Client) RestoreResult(ctx context.Context, req RestoreResultRequest) error {
	return c.do(ctx, http.MethodPost, c.agentPath("restore"), req, nil)
}

func (c *Client) agentPath(suffix string) string {
	return fmt.Sprintf("%s/agent/%s/%s", c.baseURL, c.agentID, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
