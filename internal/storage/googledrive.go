package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/logger"
	"github.com/Portabase/agent/internal/stream"
)

const (
	driveFilesURL  = "https://www.googleapis.com/drive/v3/files"
	driveUploadURL = "https://www.googleapis.com/upload/drive/v3/files?uploadType=resumable"

	driveFolderMime = "application/vnd.google-apps.folder"

	// driveChunkSize is the bytes sent per resumable upload request,
	// a multiple of the 256 KiB granularity Drive requires
	driveChunkSize = 8 * 1024 * 1024

	// driveMaxRetries bounds retries of one transient chunk failure
	driveMaxRetries = 6
)

// GoogleDriveConfig is the channel config for Google Drive storage
type GoogleDriveConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	FolderID     string `json:"folder_id"`
}

// GoogleDrive ships archives to a Google Drive folder via the
// resumable upload API
type GoogleDrive struct {
	log logger.Logger
}

func (g *GoogleDrive) Name() string { return ProviderGoogleDrive }

func (g *GoogleDrive) Upload(ctx context.Context, channel api.DatabaseStorage, req UploadRequest) (*UploadResult, error) {
	var cfg GoogleDriveConfig
	if err := DecodeConfig(channel.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.RefreshToken == "" || cfg.FolderID == "" {
		return nil, fmt.Errorf("incomplete google drive config: refresh_token and folder_id are required")
	}

	token, err := g.accessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(req.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveSize := info.Size()

	fileName := RemoteFileName(req.Encrypt)
	remotePath := RemoteFilePath(fileName)

	meta := retryablehttp.NewClient()
	meta.RetryMax = 3
	meta.Logger = nil

	folderID, err := g.ensureFolderPath(ctx, meta, token, cfg.FolderID, parentDirs(remotePath))
	if err != nil {
		return nil, err
	}

	existing, err := g.findFile(ctx, meta, token, folderID, fileName)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, fmt.Errorf("file already exists: %s", remotePath)
	}

	src, err := stream.Build(req.Archive, req.Encrypt, req.MasterKeyB64)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	sessionURL, err := g.initSession(ctx, token, folderID, fileName, src.Size)
	if err != nil {
		return nil, err
	}

	g.log.Info("Starting resumable upload", "file", fileName)
	if err := g.uploadChunks(ctx, sessionURL, src.Reader); err != nil {
		return nil, err
	}

	if src.Sidecar != nil {
		if err := g.uploadSidecar(ctx, token, folderID, fileName+".meta", src.Sidecar); err != nil {
			return nil, err
		}
	}

	return &UploadResult{RemotePath: remotePath, Size: archiveSize}, nil
}

// accessToken exchanges the stored refresh token for a fresh access token
func (g *GoogleDrive) accessToken(ctx context.Context, cfg GoogleDriveConfig) (string, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to exchange refresh token: %w", err)
	}
	return token.AccessToken, nil
}

// ensureFolderPath walks the path parts under rootID, creating missing
// folders, and returns the id of the deepest one
func (g *GoogleDrive) ensureFolderPath(ctx context.Context, client *retryablehttp.Client, token, rootID string, parts []string) (string, error) {
	parentID := rootID

	for _, name := range parts {
		query := fmt.Sprintf(
			"'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
			parentID, name, driveFolderMime,
		)

		var list struct {
			Files []struct {
				ID string `json:"id"`
			} `json:"files"`
		}
		listURL := driveFilesURL + "?" + url.Values{
			"q":                         {query},
			"fields":                    {"files(id,name)"},
			"supportsAllDrives":         {"true"},
			"includeItemsFromAllDrives": {"true"},
			"corpora":                   {"allDrives"},
		}.Encode()

		if err := g.driveGet(ctx, client, token, listURL, &list); err != nil {
			return "", fmt.Errorf("failed to list folders: %w", err)
		}
		if len(list.Files) > 0 {
			parentID = list.Files[0].ID
			continue
		}

		payload := map[string]any{
			"name":              name,
			"mimeType":          driveFolderMime,
			"parents":           []string{parentID},
			"supportsAllDrives": true,
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := g.drivePost(ctx, client, token, driveFilesURL, payload, &created); err != nil {
			return "", fmt.Errorf("failed to create folder %q: %w", name, err)
		}
		if created.ID == "" {
			return "", fmt.Errorf("no id returned after folder creation")
		}
		parentID = created.ID
	}

	return parentID, nil
}

// findFile returns the id of a file with the given name in the folder,
// or empty when absent
func (g *GoogleDrive) findFile(ctx context.Context, client *retryablehttp.Client, token, folderID, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", folderID, name)

	var list struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	listURL := driveFilesURL + "?" + url.Values{
		"q":                         {query},
		"fields":                    {"files(id,name)"},
		"supportsAllDrives":         {"true"},
		"includeItemsFromAllDrives": {"true"},
		"corpora":                   {"allDrives"},
	}.Encode()

	if err := g.driveGet(ctx, client, token, listURL, &list); err != nil {
		return "", fmt.Errorf("failed to look up file: %w", err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].ID, nil
	}
	return "", nil
}

// initSession opens a resumable upload session and returns its URL.
// size may be -1 when the stream length is unknown up front.
func (g *GoogleDrive) initSession(ctx context.Context, token, folderID, name string, size int64) (string, error) {
	metadata := map[string]any{
		"name":              name,
		"parents":           []string{folderID},
		"mimeType":          "application/octet-stream",
		"supportsAllDrives": true,
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode file metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, driveUploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upload-Content-Type", "application/octet-stream")
	if size >= 0 {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to initiate resumable upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("resumable upload init returned status %d: %s", resp.StatusCode, string(data))
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", fmt.Errorf("resumable upload init response missing Location header")
	}
	return sessionURL, nil
}

// uploadChunks streams r to the session in fixed-size ranges. The final
// chunk closes the session by declaring the total size.
func (g *GoogleDrive) uploadChunks(ctx context.Context, sessionURL string, r io.Reader) error {
	br := bufio.NewReaderSize(r, driveChunkSize)
	buf := make([]byte, driveChunkSize)
	var offset int64

	for {
		n, readErr := io.ReadFull(br, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return fmt.Errorf("failed to read upload stream: %w", readErr)
		}

		last := readErr != nil
		if !last {
			// A full chunk may still be the final one
			if _, peekErr := br.Peek(1); peekErr == io.EOF {
				last = true
			}
		}

		if n == 0 {
			break
		}

		end := offset + int64(n) - 1
		var contentRange string
		if last {
			contentRange = fmt.Sprintf("bytes %d-%d/%d", offset, end, offset+int64(n))
		} else {
			contentRange = fmt.Sprintf("bytes %d-%d/*", offset, end)
		}

		if err := g.putChunk(ctx, sessionURL, buf[:n], contentRange); err != nil {
			return err
		}
		offset += int64(n)

		if last {
			break
		}
	}

	return nil
}

// putChunk sends one range, retrying rate limits and transient failures
func (g *GoogleDrive) putChunk(ctx context.Context, sessionURL string, chunk []byte, contentRange string) error {
	var retries int

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
		if err != nil {
			return fmt.Errorf("failed to build chunk request: %w", err)
		}
		req.Header.Set("Content-Range", contentRange)
		req.ContentLength = int64(len(chunk))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			if retries >= driveMaxRetries {
				return fmt.Errorf("chunk upload failed after %d retries: %w", retries, err)
			}
			retries++
			if sleepErr := sleepCtx(ctx, time.Duration(1<<retries)*time.Second); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		status := resp.StatusCode
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case status >= 200 && status < 300, status == http.StatusPermanentRedirect:
			// 2xx completes the upload, 308 acknowledges the range
			return nil
		case status == http.StatusTooManyRequests:
			if retries >= driveMaxRetries {
				return fmt.Errorf("rate limited after %d retries", retries)
			}
			retries++
			if sleepErr := sleepCtx(ctx, time.Duration(5*(1<<retries))*time.Second); sleepErr != nil {
				return sleepErr
			}
		default:
			return fmt.Errorf("chunk upload returned status %d: %s", status, strings.TrimSpace(string(body)))
		}
	}
}

// uploadSidecar stores the cipher parameters as a small sibling file
func (g *GoogleDrive) uploadSidecar(ctx context.Context, token, folderID, name string, sidecar *stream.Sidecar) error {
	body, err := sidecar.TOML()
	if err != nil {
		return err
	}

	sessionURL, err := g.initSession(ctx, token, folderID, name, int64(len(body)))
	if err != nil {
		return fmt.Errorf("failed to start sidecar upload: %w", err)
	}

	contentRange := fmt.Sprintf("bytes 0-%d/%d", len(body)-1, len(body))
	if err := g.putChunk(ctx, sessionURL, body, contentRange); err != nil {
		return fmt.Errorf("failed to upload metadata sidecar: %w", err)
	}
	return nil
}

func (g *GoogleDrive) driveGet(ctx context.Context, client *retryablehttp.Client, token, rawURL string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("drive API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *GoogleDrive) drivePost(ctx context.Context, client *retryablehttp.Client, token, rawURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("drive API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parentDirs splits a remote path into its folder components
func parentDirs(remotePath string) []string {
	parts := strings.Split(remotePath, "/")
	if len(parts) <= 1 {
		return nil
	}
	dirs := make([]string, 0, len(parts)-1)
	for _, p := range parts[:len(parts)-1] {
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}
