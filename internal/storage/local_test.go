package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/crypto"
	"github.com/Portabase/agent/internal/logger"
)

// fakeTus collects everything the local provider sends. The file
// metadata headers are read from the PATCHes, as the real server does.
type fakeTus struct {
	headers http.Header
	body    bytes.Buffer
}

func (f *fakeTus) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/tus/files") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		switch r.Method {
		case http.MethodPost:
			w.Header().Set("Location", "/tus/files/u1")
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			f.headers = r.Header.Clone()
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			body, _ := io.ReadAll(r.Body)
			f.body.Write(body)
			w.Header().Set("Upload-Offset", strconv.FormatInt(offset+int64(len(body)), 10))
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func writeArchive(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalUpload(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		srv := &fakeTus{}
		server := httptest.NewServer(srv.handler(t))
		defer server.Close()

		content := bytes.Repeat([]byte("archive"), 500)
		archive := writeArchive(t, content)

		provider := &Local{serverURL: server.URL, log: logger.NewNullLogger()}
		result, err := provider.Upload(context.Background(), api.DatabaseStorage{ID: "st-1"}, UploadRequest{
			Archive:     archive,
			GeneratedID: "gid-1",
			Status:      "success",
			Method:      "manual",
		})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		if result.Size != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), result.Size)
		}
		if !strings.HasPrefix(result.RemotePath, "backups/") {
			t.Errorf("unexpected remote path: %s", result.RemotePath)
		}
		if !bytes.Equal(srv.body.Bytes(), content) {
			t.Error("uploaded bytes differ from archive")
		}

		if srv.headers.Get("X-Generated-Id") != "gid-1" {
			t.Error("X-Generated-Id header missing")
		}
		if srv.headers.Get("X-File-Size") != strconv.Itoa(len(content)) {
			t.Error("X-File-Size must carry the archive size")
		}
		if !strings.HasSuffix(srv.headers.Get("X-File-Name"), ".tar.gz") {
			t.Errorf("unexpected file name: %s", srv.headers.Get("X-File-Name"))
		}
		if srv.headers.Get("Upload-Metadata") != "" {
			t.Error("plain uploads must not carry Upload-Metadata")
		}
	})

	t.Run("encrypted", func(t *testing.T) {
		srv := &fakeTus{}
		server := httptest.NewServer(srv.handler(t))
		defer server.Close()

		key := make([]byte, crypto.KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			t.Fatal(err)
		}

		content := []byte("encrypted archive content")
		archive := writeArchive(t, content)

		provider := &Local{serverURL: server.URL, log: logger.NewNullLogger()}
		_, err := provider.Upload(context.Background(), api.DatabaseStorage{ID: "st-1"}, UploadRequest{
			Archive:      archive,
			GeneratedID:  "gid-1",
			Status:       "success",
			Method:       "automatic",
			Encrypt:      true,
			MasterKeyB64: base64.StdEncoding.EncodeToString(key),
		})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		if !strings.HasSuffix(srv.headers.Get("X-File-Name"), ".tar.gz.enc") {
			t.Errorf("encrypted name must end in .enc: %s", srv.headers.Get("X-File-Name"))
		}

		meta := srv.headers.Get("Upload-Metadata")
		if meta == "" {
			t.Fatal("encrypted uploads must carry Upload-Metadata")
		}
		if !strings.Contains(meta, "cipher ") {
			t.Errorf("metadata missing cipher: %s", meta)
		}

		// The uploaded bytes must be the framed ciphertext, decryptable
		// back to the original archive
		var out bytes.Buffer
		if err := crypto.Decrypt(bytes.NewReader(srv.body.Bytes()), &out, key); err != nil {
			t.Fatalf("uploaded stream is not a valid artifact: %v", err)
		}
		if !bytes.Equal(out.Bytes(), content) {
			t.Error("decrypted upload differs from archive")
		}
	})
}
