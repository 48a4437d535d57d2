package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// storeDocument is the persisted on-disk shape: {"version":1,"tasks":[...]}.
type storeDocument struct {
	Version int     `json:"version"`
	Tasks   []*Task `json:"tasks"`
}

// MutateResult lets a TaskStore.Update mutator signal that the update
// should be discarded without error or persistence.
type MutateResult int

const (
	MutateApply MutateResult = iota
	MutateAbort
)

// Mutator mutates a task in place and reports whether the change should
// be applied. It is the only sanctioned way to change task fields; direct
// mutation of a Task obtained from list/get is forbidden.
type Mutator func(t *Task) (MutateResult, error)

// TaskStore is the authoritative, durable, concurrency-safe collection
// of tasks. A single reentrant lock guards both the in-memory slice and
// the on-disk file.
type TaskStore struct {
	path string
	mu   sync.Mutex

	// tasks is guarded by mu. Internal helpers with an "Unsafe" suffix
	// assume the caller already holds the lock; Update reads the task
	// via one of those rather than re-entering Get, so a plain mutex is
	// sufficient even though the lock is conceptually reentrant per the
	// store's contract.
	tasks []*Task

	watcher    *fsnotify.Watcher
	onExternal func()
	onWrite    func()
}

// OnWrite registers fn to be invoked (non-blocking, from a new
// goroutine) after every successful atomic write, so a collaborator
// like BackupMirror can mirror the document without doing I/O inside
// the store's critical section.
func (s *TaskStore) OnWrite(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// NewTaskStore opens (or creates) the task store file at path. The
// directory is created if missing; a fresh empty document is written if
// the file does not yet exist.
func NewTaskStore(path string) (*TaskStore, error) {
	ts := &TaskStore{path: path}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errPersistence(CodeIOError, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := ts.writeUnsafe(); err != nil {
			return nil, err
		}
	} else if err := ts.loadUnsafe(); err != nil {
		return nil, err
	}

	return ts, nil
}

// Watch starts an fsnotify watch on the store file and invokes onReload
// (best-effort, logged on error) whenever the file changes, including
// the store's own atomic writes, not only out-of-band edits.
// Mirrors the hot-reload pattern used for config files in this codebase.
func (s *TaskStore) Watch(onReload func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w
	s.onExternal = onReload

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if _, err := s.Reload(); err != nil {
					slog.Warn("scheduler: store reload after external change failed", "error", err)
					continue
				}
				if s.onExternal != nil {
					s.onExternal()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("scheduler: store watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (s *TaskStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// List returns a deep-copy snapshot of every task.
func (s *TaskStore) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Get returns a deep copy of the task with the given uuid, if any.
func (s *TaskStore) Get(uuid string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findUnsafe(uuid)
	if t == nil {
		return nil, false
	}
	return t.Clone(), true
}

// GetByName returns a deep copy of the task with the given name, if any.
func (s *TaskStore) GetByName(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == name {
			return t.Clone(), true
		}
	}
	return nil, false
}

func (s *TaskStore) findUnsafe(uuid string) *Task {
	for _, t := range s.tasks {
		if t.UUID == uuid {
			return t
		}
	}
	return nil
}

// Add validates uniqueness, stamps created_at/updated_at, and persists
// the new task. Returns a deep copy of the stored task.
func (s *TaskStore) Add(t *Task, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Name == "" {
		return nil, errValidation(CodeMissingField, "name", "name is required")
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return nil, errConflict(CodeDuplicateName, fmt.Sprintf("task name %q already exists", t.Name))
		}
		if t.Type == TaskTypeAdHoc && existing.Type == TaskTypeAdHoc && t.Token != "" && existing.Token == t.Token {
			return nil, errConflict(CodeDuplicateToken, fmt.Sprintf("token %q already exists", t.Token))
		}
	}

	t.UUID = NewTaskUUID()
	t.State = StateIdle
	t.CreatedAt = now
	t.UpdatedAt = now

	s.tasks = append(s.tasks, t)
	if err := s.writeUnsafe(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return nil, err
	}
	s.notifyWriteUnsafe()
	return t.Clone(), nil
}

// Remove deletes the task with the given uuid.
func (s *TaskStore) Remove(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.tasks {
		if t.UUID == uuid {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errNotFound(fmt.Sprintf("task %q not found", uuid))
	}

	removed := s.tasks[idx]
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	if err := s.writeUnsafe(); err != nil {
		s.tasks = append(s.tasks, nil)
		copy(s.tasks[idx+1:], s.tasks[idx:])
		s.tasks[idx] = removed
		return err
	}
	s.notifyWriteUnsafe()
	return nil
}

// Update reads the task under the lock, hands a mutable in-place copy to
// mutator, validates invariants (uniqueness, state transitions), and
// persists. If mutator returns MutateAbort the update is a no-op.
func (s *TaskStore) Update(uuid string, now time.Time, mutator Mutator) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig := s.findUnsafe(uuid)
	if orig == nil {
		return nil, errNotFound(fmt.Sprintf("task %q not found", uuid))
	}

	working := orig.Clone()
	prevState := working.State

	result, err := mutator(working)
	if err != nil {
		return nil, err
	}
	if result == MutateAbort {
		return orig.Clone(), nil
	}

	if working.State != prevState && !canTransition(prevState, working.State) {
		return nil, &Error{Kind: KindConflict, Code: CodeInvalidTransition,
			Message: fmt.Sprintf("cannot transition from %s to %s", prevState, working.State)}
	}

	for _, other := range s.tasks {
		if other.UUID == uuid {
			continue
		}
		if other.Name == working.Name {
			return nil, errConflict(CodeDuplicateName, fmt.Sprintf("task name %q already exists", working.Name))
		}
		if working.Type == TaskTypeAdHoc && other.Type == TaskTypeAdHoc && working.Token != "" && other.Token == working.Token {
			return nil, errConflict(CodeDuplicateToken, fmt.Sprintf("token %q already exists", working.Token))
		}
	}

	working.UpdatedAt = now

	for i, t := range s.tasks {
		if t.UUID == uuid {
			s.tasks[i] = working
			break
		}
	}
	if err := s.writeUnsafe(); err != nil {
		for i, t := range s.tasks {
			if t.UUID == uuid {
				s.tasks[i] = orig
				break
			}
		}
		return nil, err
	}
	s.notifyWriteUnsafe()
	return working.Clone(), nil
}

// notifyWriteUnsafe fires the registered write hook, if any, on its own
// goroutine so the caller (still holding the store lock) never blocks
// on the hook's own I/O.
func (s *TaskStore) notifyWriteUnsafe() {
	if s.onWrite != nil {
		go s.onWrite()
	}
}

// Reload re-reads the file from disk, merging by uuid, and returns the
// new snapshot. Used by the tick handler to pick up out-of-band edits
// and by the fsnotify watcher.
func (s *TaskStore) Reload() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadUnsafe(); err != nil {
		return nil, err
	}
	out := make([]*Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

// DueTasks returns deep copies of tasks that are idle and due within
// window, per each variant's check_schedule.
func (s *TaskStore) DueTasks(clock Clock, cron *CronEvaluator, window time.Duration) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for _, t := range s.tasks {
		if t.State != StateIdle {
			continue
		}
		if t.CheckSchedule(clock, cron, window) {
			due = append(due, t.Clone())
		}
	}
	return due
}

func (s *TaskStore) loadUnsafe() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.tasks = nil
			return nil
		}
		return errPersistence(CodeIOError, err)
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return errPersistence(CodeCorruptStore, err)
	}

	byUUID := make(map[string]*Task, len(doc.Tasks))
	order := make([]string, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if _, seen := byUUID[t.UUID]; !seen {
			order = append(order, t.UUID)
		}
		byUUID[t.UUID] = t
	}
	merged := make([]*Task, 0, len(order))
	for _, u := range order {
		merged = append(merged, byUUID[u])
	}
	s.tasks = merged
	return nil
}

// writeUnsafe persists the full task list to a temp file and renames it
// into place, so readers never observe a half-written document.
func (s *TaskStore) writeUnsafe() error {
	doc := storeDocument{Version: 1, Tasks: s.tasks}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errPersistence(CodeIOError, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errPersistence(CodeIOError, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errPersistence(CodeIOError, err)
	}
	return nil
}
