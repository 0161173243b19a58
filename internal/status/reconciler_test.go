package status

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Portabase/agent/internal/agent"
	"github.com/Portabase/agent/internal/api"
	"github.com/Portabase/agent/internal/config"
	"github.com/Portabase/agent/internal/crypto"
	"github.com/Portabase/agent/internal/edgekey"
	"github.com/Portabase/agent/internal/logger"
	"github.com/Portabase/agent/internal/restore"
	"github.com/Portabase/agent/internal/scheduler"
)

const testGeneratedID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

// desiredState is the fake control plane's scripted answer
type desiredState struct {
	mu        sync.Mutex
	databases []api.DatabaseStatus
	requests  []api.StatusRequest
}

func (d *desiredState) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.StatusRequest
		json.NewDecoder(r.Body).Decode(&req)

		d.mu.Lock()
		d.requests = append(d.requests, req)
		databases := d.databases
		d.mu.Unlock()

		json.NewEncoder(w).Encode(api.PingResult{
			Agent:     api.AgentInfo{ID: "agent-test"},
			Databases: databases,
		})
	}
}

func testReconciler(t *testing.T, plane *desiredState) (*Reconciler, *scheduler.Store) {
	t.Helper()

	server := httptest.NewServer(plane.handler())
	t.Cleanup(server.Close)

	encoded, err := edgekey.Encode(edgekey.EdgeKey{
		ServerURL:    server.URL,
		AgentID:      "agent-test",
		MasterKeyB64: base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize)),
	})
	if err != nil {
		t.Fatal(err)
	}

	dataPath := t.TempDir()
	cfg := &config.Config{
		Version:             "test",
		EdgeKey:             encoded,
		DataPath:            dataPath,
		DatabasesConfigFile: "databases.toml",
	}

	dbFile := filepath.Join(dataPath, "databases.toml")
	err = os.WriteFile(dbFile, []byte(`
[[databases]]
name = "orders"
type = "postgresql"
generated_id = "`+testGeneratedID+`"
host = "localhost"
port = 5432
username = "app"
password = "secret"
database = "orders"
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	agentCtx, err := agent.NewContext(cfg, logger.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := scheduler.NewStoreWithClient(rdb, logger.NewNullLogger())
	t.Cleanup(func() { store.Close() })

	return NewReconciler(agentCtx, store, restore.NewService(agentCtx)), store
}

func desiredDatabase(cronExpr string, action bool) api.DatabaseStatus {
	var cron *string
	if cronExpr != "" {
		cron = &cronExpr
	}
	return api.DatabaseStatus{
		Dbms:        "postgresql",
		GeneratedID: testGeneratedID,
		Encrypt:     true,
		Storages: []api.DatabaseStorage{
			{ID: "st-1", Provider: "local", Config: map[string]any{}},
		},
		Data: api.DatabaseData{
			Backup: api.BackupDirective{Action: action, Cron: cron},
		},
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("reports the inventory", func(t *testing.T) {
		plane := &desiredState{}
		r, _ := testReconciler(t, plane)

		if err := r.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}

		plane.mu.Lock()
		defer plane.mu.Unlock()
		if len(plane.requests) != 1 {
			t.Fatalf("expected 1 status ping, got %d", len(plane.requests))
		}
		req := plane.requests[0]
		if req.Version != "test" {
			t.Errorf("version not reported: %+v", req)
		}
		if len(req.Databases) != 1 || req.Databases[0].GeneratedID != testGeneratedID {
			t.Errorf("inventory not reported: %+v", req.Databases)
		}
	})

	t.Run("creates the backup task", func(t *testing.T) {
		plane := &desiredState{databases: []api.DatabaseStatus{desiredDatabase("*/10 * * * *", true)}}
		r, store := testReconciler(t, plane)

		if err := r.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}

		task, found, err := store.Get(ctx, TaskName(testGeneratedID))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("backup task not created")
		}
		if task.Task != scheduler.TaskPeriodicBackup {
			t.Errorf("wrong task kind: %s", task.Task)
		}
		if len(task.Args) != 2 || task.Args[0] != testGeneratedID || task.Args[1] != "postgresql" {
			t.Errorf("wrong args: %v", task.Args)
		}
		if task.Metadata["encrypt"] != true {
			t.Errorf("encrypt flag not persisted: %v", task.Metadata)
		}
	})

	t.Run("repeated reconcile is stable", func(t *testing.T) {
		plane := &desiredState{databases: []api.DatabaseStatus{desiredDatabase("*/10 * * * *", true)}}
		r, store := testReconciler(t, plane)

		if err := r.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}
		first, _, _ := store.Get(ctx, TaskName(testGeneratedID))

		if err := r.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}
		second, _, _ := store.Get(ctx, TaskName(testGeneratedID))

		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		if string(a) != string(b) {
			t.Errorf("task drifted between reconciles:\n%s\n%s", a, b)
		}
	})

	t.Run("disabled backup removes the task", func(t *testing.T) {
		plane := &desiredState{databases: []api.DatabaseStatus{desiredDatabase("*/10 * * * *", true)}}
		r, store := testReconciler(t, plane)

		if err := r.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}

		plane.mu.Lock()
		plane.databases = []api.DatabaseStatus{desiredDatabase("*/10 * * * *", false)}
		plane.mu.Unlock()

		if err := r.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}

		if _, found, _ := store.Get(ctx, TaskName(testGeneratedID)); found {
			t.Error("task survived a disabled backup directive")
		}
	})

	t.Run("missing config reports empty inventory", func(t *testing.T) {
		plane := &desiredState{}
		r, _ := testReconciler(t, plane)
		os.Remove(r.ctx.Cfg.DatabasesConfigPath())

		if err := r.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}

		plane.mu.Lock()
		defer plane.mu.Unlock()
		if len(plane.requests[0].Databases) != 0 {
			t.Errorf("expected empty inventory, got %+v", plane.requests[0].Databases)
		}
	})
}

func TestTaskName(t *testing.T) {
	if got := TaskName("abc"); got != "periodic.backup_abc" {
		t.Errorf("unexpected task name: %s", got)
	}
}
