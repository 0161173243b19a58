package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/logger"
	"github.com/Portabase/agent/internal/stream"
	"github.com/Portabase/agent/internal/tus"
)

// Local ships archives to the control plane's own tus endpoint
type Local struct {
	serverURL string
	log       logger.Logger
}

func (l *Local) Name() string { return ProviderLocal }

func (l *Local) Upload(ctx context.Context, channel api.DatabaseStorage, req UploadRequest) (*UploadResult, error) {
	info, err := os.Stat(req.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveSize := info.Size()

	src, err := stream.Build(req.Archive, req.Encrypt, req.MasterKeyB64)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	fileName := RemoteFileName(req.Encrypt)
	remotePath := RemoteFilePath(fileName)

	headers := map[string]string{
		"X-File-Name":    fileName,
		"X-File-Size":    strconv.FormatInt(archiveSize, 10),
		"X-File-Path":    remotePath,
		"X-Generated-Id": req.GeneratedID,
		"X-Status":       req.Status,
		"X-Method":       req.Method,
	}
	if src.Sidecar != nil {
		headers["Upload-Metadata"] = uploadMetadata(src.Sidecar.Version, src.Sidecar.Cipher, src.Sidecar.ChunkSize)
	}

	endpoint := strings.TrimRight(l.serverURL, "/") + "/tus/files"
	l.log.Debug("Starting tus upload", "endpoint", endpoint, "file", fileName)

	if _, _, err := tus.NewClient().Upload(ctx, endpoint, src.Reader, headers); err != nil {
		return nil, err
	}

	return &UploadResult{RemotePath: remotePath, Size: archiveSize}, nil
}

// uploadMetadata renders the cipher parameters as a tus Upload-Metadata
// header, one base64-encoded value per key
func uploadMetadata(version int, cipher string, chunkSize int) string {
	pairs := []string{
		"version " + base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(version))),
		"cipher " + base64.StdEncoding.EncodeToString([]byte(cipher)),
		"chunk_size " + base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(chunkSize))),
	}
	return strings.Join(pairs, ",")
}
