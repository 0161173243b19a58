// Package tus implements the client side of the tus resumable upload
// protocol (creation and creation-defer-length extensions), which the
// control plane uses for direct-to-server backup uploads.
package tus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// ProtocolVersion is sent as Tus-Resumable on every request
	ProtocolVersion = "1.0.0"

	// chunkSize is the bytes sent per PATCH request
	chunkSize = 1024 * 1024
)

// ErrOffsetMismatch means the server acknowledged a different offset
// than the client sent, which indicates lost or duplicated data.
var ErrOffsetMismatch = errors.New("upload offset mismatch")

// Client performs tus uploads against one endpoint
type Client struct {
	http *http.Client
}

// NewClient creates a tus client. Uploads can be long-running, so the
// underlying HTTP client carries no overall timeout.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Upload streams r to the tus endpoint and returns the upload location
// and the total bytes sent. The stream length does not need to be known
// up front, the upload is created with a deferred length and finalized
// once the stream ends. The extra headers ride on every PATCH and on
// the finalize, where the server reads the file metadata.
func (c *Client) Upload(ctx context.Context, endpoint string, r io.Reader, headers map[string]string) (string, int64, error) {
	location, err := c.create(ctx, endpoint)
	if err != nil {
		return "", 0, err
	}

	var offset int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := c.patch(ctx, location, offset, buf[:n], headers); err != nil {
				return location, offset, err
			}
			offset += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return location, offset, fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}

	if err := c.finalize(ctx, location, offset, headers); err != nil {
		return location, offset, err
	}
	return location, offset, nil
}

// create registers a new upload and returns its absolute location
func (c *Client) create(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build creation request: %w", err)
	}
	req.Header.Set("Tus-Resumable", ProtocolVersion)
	req.Header.Set("Upload-Defer-Length", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload creation failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload creation returned status %d", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("upload creation response missing Location header")
	}
	return resolveLocation(endpoint, location)
}

// patch sends one chunk at the given offset and verifies the server's
// acknowledged offset
func (c *Client) patch(ctx context.Context, location string, offset int64, chunk []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, bytes.NewReader(chunk))
	if err != nil {
		return fmt.Errorf("failed to build patch request: %w", err)
	}
	req.Header.Set("Tus-Resumable", ProtocolVersion)
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chunk upload failed at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chunk upload returned status %d at offset %d", resp.StatusCode, offset)
	}

	if ack := resp.Header.Get("Upload-Offset"); ack != "" {
		acked, err := strconv.ParseInt(ack, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid Upload-Offset in response: %w", err)
		}
		if acked != offset+int64(len(chunk)) {
			return fmt.Errorf("%w: sent up to %d, server acknowledged %d", ErrOffsetMismatch, offset+int64(len(chunk)), acked)
		}
	}
	return nil
}

// finalize resolves the deferred length with a zero-byte patch
func (c *Client) finalize(ctx context.Context, location string, total int64, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, nil)
	if err != nil {
		return fmt.Errorf("failed to build finalize request: %w", err)
	}
	req.Header.Set("Tus-Resumable", ProtocolVersion)
	req.Header.Set("Upload-Offset", strconv.FormatInt(total, 10))
	req.Header.Set("Upload-Length", strconv.FormatInt(total, 10))
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload finalize failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload finalize returned status %d", resp.StatusCode)
	}
	return nil
}

// resolveLocation makes relative Location headers absolute
func resolveLocation(endpoint, location string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location header: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
