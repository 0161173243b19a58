package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAgentStatus(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody StatusRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(PingResult{
			Agent: AgentInfo{ID: "agent-1", LastContact: "2026-08-24T10:00:00Z"},
			Databases: []DatabaseStatus{{
				Dbms:        "postgresql",
				GeneratedID: "gid-1",
				Encrypt:     true,
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1")
	result, err := client.AgentStatus(context.Background(), StatusRequest{
		Version:   "1.0.0",
		Databases: []DatabasePayload{{Name: "orders", Dbms: "postgresql", GeneratedID: "gid-1"}},
	})
	if err != nil {
		t.Fatalf("AgentStatus failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/api/agent/agent-1/status" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotBody.Version != "1.0.0" {
		t.Errorf("version not sent: %+v", gotBody)
	}
	if len(result.Databases) != 1 || !result.Databases[0].Encrypt {
		t.Errorf("response not decoded: %+v", result)
	}
}

func TestBackupEndpoints(t *testing.T) {
	type call struct {
		method string
		path   string
	}
	var calls []call

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/agent/a/backup":
			json.NewEncoder(w).Encode(BackupResponse{Backup: Backup{ID: "backup-9"}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/agent/a/backup/upload/init":
			json.NewEncoder(w).Encode(UploadResponse{BackupStorage: BackupStorage{ID: "bs-1"}})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "a")
	ctx := context.Background()

	created, err := client.BackupCreate(ctx, BackupCreateRequest{Method: "manual", GeneratedID: "gid"})
	if err != nil {
		t.Fatalf("BackupCreate failed: %v", err)
	}
	if created.Backup.ID != "backup-9" {
		t.Errorf("backup id not decoded: %+v", created)
	}

	init, err := client.BackupUploadInit(ctx, UploadInitRequest{GeneratedID: "gid", StorageChannelID: "sc", BackupID: "backup-9"})
	if err != nil {
		t.Fatalf("BackupUploadInit failed: %v", err)
	}
	if init.BackupStorage.ID != "bs-1" {
		t.Errorf("backup storage id not decoded: %+v", init)
	}

	if err := client.BackupUploadStatus(ctx, UploadStatusRequest{Status: "success"}); err != nil {
		t.Fatalf("BackupUploadStatus failed: %v", err)
	}
	if err := client.BackupUpdate(ctx, BackupUpdateRequest{BackupID: "backup-9", Status: "success"}); err != nil {
		t.Fatalf("BackupUpdate failed: %v", err)
	}
	if err := client.RestoreResult(ctx, RestoreResultRequest{GeneratedID: "gid", Status: "success"}); err != nil {
		t.Fatalf("RestoreResult failed: %v", err)
	}

	wantMethods := []string{"POST", "POST", "PATCH", "PATCH", "POST"}
	if len(calls) != len(wantMethods) {
		t.Fatalf("expected %d calls, got %d", len(wantMethods), len(calls))
	}
	for i, want := range wantMethods {
		if calls[i].method != want {
			t.Errorf("call %d: expected %s, got %s (%s)", i, want, calls[i].method, calls[i].path)
		}
	}
}

func TestHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"unknown agent"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "ghost")
	_, err := client.AgentStatus(context.Background(), StatusRequest{})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("wrong status: %d", httpErr.Status)
	}
	if httpErr.Body == "" {
		t.Error("error body should carry the response")
	}
}

func TestEmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "a")
	result, err := client.BackupCreate(context.Background(), BackupCreateRequest{})
	if err != nil {
		t.Fatalf("empty body should not fail: %v", err)
	}
	if result.Backup.ID != "" {
		t.Errorf("expected zero value, got %+v", result)
	}
}
