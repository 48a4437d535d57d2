package scheduler

import "time"

// TaskRepository is the storage-agnostic contract the Scheduler and HTTP
// surface depend on. TaskStore (JSON file) and PostgresTaskStore satisfy
// it; callers wire whichever backend config.StoreBackend selects.
type TaskRepository interface {
	List() []*Task
	Get(uuid string) (*Task, bool)
	GetByName(name string) (*Task, bool)
	Add(t *Task, now time.Time) (*Task, error)
	Remove(uuid string) error
	Update(uuid string, now time.Time, mutator Mutator) (*Task, error)
	Reload() ([]*Task, error)
	DueTasks(clock Clock, cron *CronEvaluator, window time.Duration) []*Task
	Close() error
}

var (
	_ TaskRepository = (*TaskStore)(nil)
	_ TaskRepository = (*PostgresTaskStore)(nil)
)
