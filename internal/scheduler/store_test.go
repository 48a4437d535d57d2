package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*TaskStore, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	store, err := NewTaskStore(path)
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	return store, path
}

func TestTaskStore_AddAssignsUUIDAndStampsTime(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	stored, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n", Prompt: "p"}, Token: "tok"}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if stored.UUID == "" {
		t.Fatal("expected a UUID to be assigned")
	}
	if stored.State != StateIdle {
		t.Fatalf("expected new task to start idle, got %s", stored.State)
	}
	if !stored.CreatedAt.Equal(now) || !stored.UpdatedAt.Equal(now) {
		t.Fatal("expected created_at/updated_at stamped with now")
	}
}

func TestTaskStore_AddRequiresName(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Add(&Task{Type: TaskTypeAdHoc, Token: "t"}, time.Now()); !IsValidation(err) {
		t.Fatalf("expected a validation error for missing name, got %v", err)
	}
}

func TestTaskStore_AddRejectsDuplicateName(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	if _, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "dup"}, Token: "a"}, now); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	_, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "dup"}, Token: "b"}, now)
	if !IsConflict(err) {
		t.Fatalf("expected a conflict error for duplicate name, got %v", err)
	}
}

func TestTaskStore_AddRejectsDuplicateAdHocToken(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	if _, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "a"}, Token: "shared"}, now); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	_, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "b"}, Token: "shared"}, now)
	if !IsConflict(err) {
		t.Fatalf("expected a conflict error for duplicate token, got %v", err)
	}
}

func TestTaskStore_GetAndGetByName(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	stored, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := store.Get(stored.UUID)
	if !ok || got.UUID != stored.UUID {
		t.Fatal("expected Get to find the stored task by uuid")
	}
	byName, ok := store.GetByName("n")
	if !ok || byName.UUID != stored.UUID {
		t.Fatal("expected GetByName to find the stored task")
	}
	if _, ok := store.Get("nonexistent"); ok {
		t.Fatal("expected Get to report not found for an unknown uuid")
	}
}

func TestTaskStore_GetReturnsIndependentCopy(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)

	got, _ := store.Get(stored.UUID)
	got.Name = "mutated"

	again, _ := store.Get(stored.UUID)
	if again.Name != "n" {
		t.Fatal("expected mutating a Get result not to affect the stored task")
	}
}

func TestTaskStore_RemoveAndNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)

	if err := store.Remove(stored.UUID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := store.Get(stored.UUID); ok {
		t.Fatal("expected task to be gone after Remove")
	}
	if err := store.Remove(stored.UUID); !IsNotFound(err) {
		t.Fatalf("expected NotFound removing an already-removed task, got %v", err)
	}
}

func TestTaskStore_UpdateAppliesMutatorAndTimestamp(t *testing.T) {
	store, _ := newTestStore(t)
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, createdAt)

	updatedAt := createdAt.Add(time.Hour)
	updated, err := store.Update(stored.UUID, updatedAt, func(task *Task) (MutateResult, error) {
		task.Name = "renamed"
		return MutateApply, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("expected name updated, got %q", updated.Name)
	}
	if !updated.UpdatedAt.Equal(updatedAt) {
		t.Fatal("expected updated_at stamped with now")
	}
}

func TestTaskStore_UpdateMutateAbortIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)

	result, err := store.Update(stored.UUID, now.Add(time.Hour), func(task *Task) (MutateResult, error) {
		task.Name = "should-not-stick"
		return MutateAbort, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if result.Name != "n" {
		t.Fatalf("expected MutateAbort to discard the change, got name %q", result.Name)
	}
}

func TestTaskStore_UpdateRejectsIllegalStateTransition(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)

	_, err := store.Update(stored.UUID, now, func(task *Task) (MutateResult, error) {
		task.State = StateError
		return MutateApply, nil
	})
	if !IsConflict(err) {
		t.Fatalf("expected idle->error to be rejected as a conflict, got %v", err)
	}
}

func TestTaskStore_UpdateRejectsRenameToExistingName(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "taken"}, Token: "a"}, now)
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "free"}, Token: "b"}, now)

	_, err := store.Update(stored.UUID, now, func(task *Task) (MutateResult, error) {
		task.Name = "taken"
		return MutateApply, nil
	})
	if !IsConflict(err) {
		t.Fatalf("expected rename to a taken name to conflict, got %v", err)
	}
}

func TestTaskStore_UpdateNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Update("missing", time.Now(), func(task *Task) (MutateResult, error) {
		return MutateApply, nil
	})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTaskStore_PersistsAcrossReopen(t *testing.T) {
	store, path := newTestStore(t)
	now := time.Now().UTC()
	stored, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "durable"}, Token: "t"}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := NewTaskStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Get(stored.UUID)
	if !ok || got.Name != "durable" {
		t.Fatal("expected the task to survive a reopen of the store file")
	}
}

func TestTaskStore_WriteIsAtomic(t *testing.T) {
	store, path := newTestStore(t)
	now := time.Now().UTC()
	if _, err := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now); err != nil {
		t.Fatalf("Add: %v", err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// A failed write must never corrupt the file in place: writeUnsafe
	// writes to a temp path and renames, so a reader always sees either
	// the old content or the new content in full, never a partial write.
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); err == nil {
		t.Fatal("expected no leftover .tmp file after a successful write")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("expected file contents stable when no further writes occurred")
	}
}

func TestTaskStore_DueTasksOnlyConsidersIdle(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 16, 0, 0, time.UTC)
	clock := NewVirtualClock(now)
	cron := NewCronEvaluator()

	due, err := store.Add(&Task{
		Type:       TaskTypeScheduled,
		TaskHeader: TaskHeader{Name: "due"},
		Schedule:   &TaskSchedule{Minute: "*/15", Hour: "*", Day: "*", Month: "*", Weekday: "*"},
	}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	running, err := store.Add(&Task{
		Type:       TaskTypeScheduled,
		TaskHeader: TaskHeader{Name: "running"},
		Schedule:   &TaskSchedule{Minute: "*/15", Hour: "*", Day: "*", Month: "*", Weekday: "*"},
	}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Update(running.UUID, now, func(task *Task) (MutateResult, error) {
		task.State = StateRunning
		return MutateApply, nil
	}); err != nil {
		t.Fatalf("Update to running: %v", err)
	}

	results := store.DueTasks(clock, cron, 2*time.Minute)
	if len(results) != 1 || results[0].UUID != due.UUID {
		t.Fatalf("expected only the idle due task to be returned, got %+v", results)
	}
}

func TestTaskStore_ReloadReturnsPersistedTask(t *testing.T) {
	store, path := newTestStore(t)
	now := time.Now().UTC()
	stored, _ := store.Add(&Task{Type: TaskTypeAdHoc, TaskHeader: TaskHeader{Name: "n"}, Token: "t"}, now)

	_ = path
	reloaded, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(reloaded) != 1 || reloaded[0].UUID != stored.UUID {
		t.Fatalf("expected Reload to return the same single task, got %+v", reloaded)
	}
}
