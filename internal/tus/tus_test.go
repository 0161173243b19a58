package tus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// tusServer is a minimal in-memory tus endpoint for tests
type tusServer struct {
	data            bytes.Buffer
	finalized       bool
	createHeaders   http.Header
	patchHeaders    []http.Header
	finalizeHeaders http.Header
	patchOffsets    []int64

	// misbehave makes the server acknowledge a wrong offset
	misbehave bool
}

func (s *tusServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Tus-Resumable") != ProtocolVersion {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}

		switch r.Method {
		case http.MethodPost:
			s.createHeaders = r.Header.Clone()
			w.Header().Set("Location", "/files/upload-1")
			w.WriteHeader(http.StatusCreated)

		case http.MethodPatch:
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			body, _ := io.ReadAll(r.Body)

			if len(body) == 0 {
				s.finalized = true
				s.finalizeHeaders = r.Header.Clone()
				w.Header().Set("Upload-Offset", strconv.FormatInt(offset, 10))
				w.WriteHeader(http.StatusNoContent)
				return
			}

			s.patchHeaders = append(s.patchHeaders, r.Header.Clone())
			s.patchOffsets = append(s.patchOffsets, offset)
			s.data.Write(body)

			acked := offset + int64(len(body))
			if s.misbehave {
				acked--
			}
			w.Header().Set("Upload-Offset", strconv.FormatInt(acked, 10))
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func TestUpload(t *testing.T) {
	t.Run("streams and finalizes", func(t *testing.T) {
		srv := &tusServer{}
		server := httptest.NewServer(srv.handler())
		defer server.Close()

		// Payload larger than one chunk to force several PATCHes
		payload := bytes.Repeat([]byte("x"), chunkSize+chunkSize/2)

		location, total, err := NewClient().Upload(
			context.Background(),
			server.URL+"/files",
			bytes.NewReader(payload),
			map[string]string{"X-File-Name": "a.tar.gz"},
		)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		if total != int64(len(payload)) {
			t.Errorf("expected %d bytes, got %d", len(payload), total)
		}
		if !strings.HasSuffix(location, "/files/upload-1") {
			t.Errorf("unexpected location: %s", location)
		}
		if !bytes.Equal(srv.data.Bytes(), payload) {
			t.Error("server received different bytes")
		}
		if !srv.finalized {
			t.Error("upload was not finalized")
		}

		if srv.createHeaders.Get("Upload-Defer-Length") != "1" {
			t.Error("creation must defer the length")
		}

		// The server reads file metadata from the PATCHes, so the
		// extra headers must ride on every one of them
		for i, h := range srv.patchHeaders {
			if h.Get("X-File-Name") != "a.tar.gz" {
				t.Errorf("patch %d is missing the extra headers", i)
			}
		}
		if srv.finalizeHeaders.Get("X-File-Name") != "a.tar.gz" {
			t.Error("finalize is missing the extra headers")
		}

		// Offsets must be monotonic and gapless
		var want int64
		for i, off := range srv.patchOffsets {
			if off != want {
				t.Errorf("patch %d at offset %d, expected %d", i, off, want)
			}
			if i < len(srv.patchOffsets)-1 {
				want += chunkSize
			}
		}
	})

	t.Run("detects offset mismatch", func(t *testing.T) {
		srv := &tusServer{misbehave: true}
		server := httptest.NewServer(srv.handler())
		defer server.Close()

		_, _, err := NewClient().Upload(
			context.Background(),
			server.URL+"/files",
			strings.NewReader("payload"),
			nil,
		)
		if !errors.Is(err, ErrOffsetMismatch) {
			t.Errorf("expected ErrOffsetMismatch, got %v", err)
		}
	})

	t.Run("creation failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, _, err := NewClient().Upload(context.Background(), server.URL, strings.NewReader("x"), nil)
		if err == nil {
			t.Error("expected error when creation fails")
		}
	})

	t.Run("relative location resolves against endpoint", func(t *testing.T) {
		srv := &tusServer{}
		server := httptest.NewServer(srv.handler())
		defer server.Close()

		location, _, err := NewClient().Upload(context.Background(), server.URL+"/files", strings.NewReader("x"), nil)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if location != fmt.Sprintf("%s/files/upload-1", server.URL) {
			t.Errorf("location not resolved: %s", location)
		}
	})
}
