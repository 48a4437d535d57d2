package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

func newTestServer(t *testing.T) (*Server, *scheduler.TaskStore, *scheduler.MemoryContextStore) {
	t.Helper()
	store, err := scheduler.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	ctxStore, err := scheduler.NewMemoryContextStore(16)
	if err != nil {
		t.Fatalf("NewMemoryContextStore: %v", err)
	}
	cron := scheduler.NewCronEvaluator()
	srv := NewServer(Options{Store: store, ContextStore: ctxStore, Cron: cron})
	return srv, store, ctxStore
}

func addTestTask(t *testing.T, store *scheduler.TaskStore, name, token string) *scheduler.Task {
	t.Helper()
	task, err := store.Add(&scheduler.Task{
		Type:       scheduler.TaskTypeAdHoc,
		TaskHeader: scheduler.TaskHeader{Name: name, Prompt: "p"},
		Token:      token,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return task
}

func TestHandleTaskUpdate_RejectsSettingStateToRunning(t *testing.T) {
	srv, store, _ := newTestServer(t)
	task := addTestTask(t, store, "t1", "tok1")

	body, _ := json.Marshal(map[string]any{"uuid": task.UUID, "state": "running"})
	req := httptest.NewRequest("POST", "/scheduler_task_update", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskUpdate(w, req)

	if w.Code == 200 {
		t.Fatalf("expected update rejected, got 200: %s", w.Body.String())
	}
	var resp map[string]map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"]["kind"] != "validation" {
		t.Fatalf("expected validation error, got %+v", resp)
	}

	reloaded, ok := store.Get(task.UUID)
	if !ok || reloaded.State != scheduler.StateIdle {
		t.Fatalf("expected task to remain idle, got %+v", reloaded)
	}
}

func TestHandleTaskUpdate_RejectsStateChangeWhileRunning(t *testing.T) {
	srv, store, _ := newTestServer(t)
	task := addTestTask(t, store, "t1", "tok1")
	if _, err := store.Update(task.UUID, time.Now().UTC(), func(tk *scheduler.Task) (scheduler.MutateResult, error) {
		tk.State = scheduler.StateRunning
		return scheduler.MutateApply, nil
	}); err != nil {
		t.Fatalf("force running: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"uuid": task.UUID, "state": "idle"})
	req := httptest.NewRequest("POST", "/scheduler_task_update", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskUpdate(w, req)

	if w.Code == 200 {
		t.Fatalf("expected update rejected while running, got 200: %s", w.Body.String())
	}

	reloaded, ok := store.Get(task.UUID)
	if !ok || reloaded.State != scheduler.StateRunning {
		t.Fatalf("expected task to remain running, got %+v", reloaded)
	}
}

func TestHandleTaskUpdate_AllowsIdleToDisabled(t *testing.T) {
	srv, store, _ := newTestServer(t)
	task := addTestTask(t, store, "t1", "tok1")

	body, _ := json.Marshal(map[string]any{"uuid": task.UUID, "state": "disabled"})
	req := httptest.NewRequest("POST", "/scheduler_task_update", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskUpdate(w, req)

	if w.Code != 200 {
		t.Fatalf("expected idle->disabled to succeed, got %d: %s", w.Code, w.Body.String())
	}
	reloaded, ok := store.Get(task.UUID)
	if !ok || reloaded.State != scheduler.StateDisabled {
		t.Fatalf("expected task disabled, got %+v", reloaded)
	}
}

func TestHandleTaskDelete_RemovesContextRecord(t *testing.T) {
	srv, store, ctxStore := newTestServer(t)
	task := addTestTask(t, store, "t1", "tok1")
	before, err := ctxStore.GetOrCreate(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"uuid": task.UUID})
	req := httptest.NewRequest("POST", "/scheduler_task_delete", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskDelete(w, req)

	if w.Code != 200 {
		t.Fatalf("expected delete to succeed, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := store.Get(task.UUID); ok {
		t.Fatalf("expected task removed from store")
	}
	after, err := ctxStore.GetOrCreate(context.Background(), task.UUID)
	if err != nil {
		t.Fatalf("GetOrCreate after delete: %v", err)
	}
	if after == before {
		t.Fatalf("expected context record removed, got the same ref %q back", before)
	}
}

func TestHandleTaskCreate_DefaultsDeepSearchToOff(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"type": "adhoc", "name": "t1", "prompt": "p", "token": "tok"})
	req := httptest.NewRequest("POST", "/scheduler_task_create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskCreate(w, req)

	if w.Code != 200 {
		t.Fatalf("expected create to succeed, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Task scheduler.Task `json:"task"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Task.CtxDeepSearch != scheduler.TriOff {
		t.Fatalf("expected ctx_deep_search defaulted to off, got %q", resp.Task.CtxDeepSearch)
	}
}

func TestHandleTaskCreate_RejectsAutoDeepSearch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"type": "adhoc", "name": "t1", "prompt": "p", "token": "tok", "ctx_deep_search": "auto"})
	req := httptest.NewRequest("POST", "/scheduler_task_create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleTaskCreate(w, req)

	if w.Code == 200 {
		t.Fatalf("expected auto ctx_deep_search rejected, got 200: %s", w.Body.String())
	}
}
