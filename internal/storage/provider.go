// Package storage uploads finished backup archives to the storage
// channels configured on the control plane.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/logger"
)

// Provider names as sent by the control plane
const (
	ProviderLocal       = "local"
	ProviderS3          = "s3"
	ProviderGoogleDrive = "google-drive"
)

// UploadRequest describes one archive to push to a storage channel
type UploadRequest struct {
	// Archive is the local path of the finished tar.gz
	Archive string

	// GeneratedID identifies the database the archive belongs to
	GeneratedID string

	// Status is the backup outcome being shipped ("success" or "failed")
	Status string

	// Method is how the backup was triggered ("automatic" or "manual")
	Method string

	// Encrypt enables on-the-fly artifact encryption
	Encrypt bool

	// MasterKeyB64 is the base64 AES key, required when Encrypt is set
	MasterKeyB64 string
}

// UploadResult reports where the archive landed
type UploadResult struct {
	RemotePath string
	Size       int64
}

// Provider pushes archives to one kind of storage backend
type Provider interface {
	Name() string
	Upload(ctx context.Context, channel api.DatabaseStorage, req UploadRequest) (*UploadResult, error)
}

// ForProvider returns the provider implementation for a channel's
// provider name, or nil when the name is unknown.
func ForProvider(name, serverURL string, log logger.Logger) Provider {
	switch name {
	case ProviderLocal:
		return &Local{serverURL: serverURL, log: log}
	case ProviderS3:
		return &S3{log: log}
	case ProviderGoogleDrive:
		return &GoogleDrive{log: log}
	default:
		return nil
	}
}

// DecodeConfig maps a channel's raw config into a typed provider
// config. Keys arrive in camelCase from the control plane and are
// normalized to the snake_case field tags first.
func DecodeConfig(raw map[string]any, out any) error {
	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[camelToSnake(k)] = v
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to encode storage config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode storage config: %w", err)
	}
	return nil
}

func camelToSnake(s string) string {
	out := make([]rune, 0, len(s)+4)
	for i, c := range s {
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// RemoteFileName builds the randomized artifact name for an upload
func RemoteFileName(encrypt bool) string {
	name := uuid.New().String() + ".tar.gz"
	if encrypt {
		name += ".enc"
	}
	return name
}

// RemoteFilePath places an artifact under the date-partitioned prefix
func RemoteFilePath(fileName string) string {
	return fmt.Sprintf("backups/%s/%s", time.Now().UTC().Format("2006-01-02"), fileName)
}
