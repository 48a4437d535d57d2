package scheduler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType discriminates the three Task variants on the wire and on disk.
type TaskType string

const (
	TaskTypeScheduled TaskType = "scheduled"
	TaskTypeAdHoc      TaskType = "adhoc"
	TaskTypePlanned    TaskType = "planned"
)

// TaskState is the lifecycle enum enforced by the Scheduler's state
// machine. Transitions not present in stateTransitions are rejected.
type TaskState string

const (
	StateIdle     TaskState = "idle"
	StateRunning  TaskState = "running"
	StateDisabled TaskState = "disabled"
	StateError    TaskState = "error"
)

// TriState models the on/off/auto knobs carried by every task header.
type TriState string

const (
	TriOn   TriState = "on"
	TriOff  TriState = "off"
	TriAuto TriState = "auto"
)

// stateTransitions enumerates every edge the state machine permits.
// Anything not listed here is rejected with CodeInvalidTransition.
var stateTransitions = map[TaskState]map[TaskState]bool{
	StateIdle:     {StateRunning: true, StateDisabled: true},
	StateRunning:  {StateIdle: true, StateError: true},
	StateDisabled: {StateIdle: true},
	StateError:    {StateIdle: true, StateDisabled: true},
}

func canTransition(from, to TaskState) bool {
	if from == to {
		return false
	}
	edges, ok := stateTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// TaskHeader holds the fields common to all three Task variants.
type TaskHeader struct {
	UUID          string    `json:"uuid"`
	Name          string    `json:"name"`
	State         TaskState `json:"state"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Prompt        string    `json:"prompt"`
	Attachments   []string  `json:"attachments,omitempty"`
	CtxPlanning   TriState  `json:"ctx_planning"`
	CtxReasoning  TriState  `json:"ctx_reasoning"`
	CtxDeepSearch TriState  `json:"ctx_deep_search"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastResult    string    `json:"last_result,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	// RunSeq is a monotonic counter bumped every time the task enters
	// running; outcomes tagged with a stale RunSeq are discarded (the
	// antidote to zombie agent writes after a missed cancellation).
	RunSeq int64 `json:"run_seq"`

	// MaxRetries is the number of extra attempts the same run makes on
	// agent error before falling through to on_error. Zero (the
	// default) preserves one-shot semantics.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Task is the sum type over ScheduledTask/AdHocTask/PlannedTask; Type names
// which. The variant data lives in Schedule/Token/Plan; the
// Scheduled/AdHoc/Planned pointers are not set by this package.
type Task struct {
	Type TaskType `json:"type"`

	TaskHeader

	Scheduled *ScheduledExtra `json:"-"`
	AdHoc     *AdHocExtra     `json:"-"`
	Planned   *PlannedExtra   `json:"-"`

	// Wire-level flattened fields for the variant payload; encoded and
	// decoded as-is by the default JSON encoding.
	Schedule *TaskSchedule `json:"schedule,omitempty"`
	Token    string        `json:"token,omitempty"`
	Plan     *TaskPlan     `json:"plan,omitempty"`

	// ScheduleDisplay is read-only, computed on serialization for
	// ScheduledTask.
	ScheduleDisplay string `json:"schedule_display,omitempty"`
}

// taskAlias breaks MarshalJSON's recursion while reusing Task's json tags.
type taskAlias Task

// MarshalJSON computes the read-only schedule_display field for
// ScheduledTask before delegating to the struct's default encoding.
func (t *Task) MarshalJSON() ([]byte, error) {
	out := taskAlias(*t)
	if out.Type == TaskTypeScheduled && out.Schedule != nil {
		out.ScheduleDisplay = ScheduleDisplay(out.Schedule.Expr())
	} else {
		out.ScheduleDisplay = ""
	}
	return json.Marshal(out)
}

// TaskSchedule is a five-field cron expression plus the IANA timezone it
// is evaluated in.
type TaskSchedule struct {
	Minute   string `json:"minute"`
	Hour     string `json:"hour"`
	Day      string `json:"day"`
	Month    string `json:"month"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone,omitempty"`
}

// Expr renders the schedule as a five-field cron string for CronEvaluator.
func (s *TaskSchedule) Expr() string {
	return s.Minute + " " + s.Hour + " " + s.Day + " " + s.Month + " " + s.Weekday
}

// ScheduledExtra, AdHocExtra and PlannedExtra hold variant-specific state.
// They exist mainly as a documentation seam; the canonical storage for
// their data lives in Task.Schedule/Token/Plan so JSON round-trips without
// a custom discriminated-union decoder for nested structs.
type ScheduledExtra struct{}
type AdHocExtra struct{}
type PlannedExtra struct{}

// NewTaskUUID mints a fresh random task identifier.
func NewTaskUUID() string {
	return uuid.NewString()
}

// CheckSchedule dispatches per variant: whether this task is due to run
// automatically. A ScheduledTask is due when it fires in (now-window, now].
func (t *Task) CheckSchedule(clock Clock, cron *CronEvaluator, window time.Duration) bool {
	switch t.Type {
	case TaskTypeScheduled:
		if t.Schedule == nil {
			return false
		}
		tz := clock.DefaultTimezone()
		if t.Schedule.Timezone != "" {
			if loc, err := time.LoadLocation(t.Schedule.Timezone); err == nil {
				tz = loc
			}
		}
		now := clock.Now()
		next, ok := cron.NextAfter(t.Schedule.Expr(), tz, now.Add(-window))
		return ok && !next.After(now)
	case TaskTypePlanned:
		if t.Plan == nil {
			return false
		}
		_, ok := t.Plan.ShouldLaunch(clock.Now())
		return ok
	case TaskTypeAdHoc:
		return false
	default:
		return false
	}
}

// OnRun is the lifecycle hook invoked just before the idle->running
// transition is persisted. PlannedTask moves its due instant to
// in_progress; the other variants have nothing to do.
func (t *Task) OnRun(now time.Time) error {
	if t.Type == TaskTypePlanned && t.Plan != nil {
		instant, ok := t.Plan.ShouldLaunch(now)
		if !ok {
			return &Error{Kind: KindConflict, Code: CodeInvalidTransition, Message: "planned task has no due instant"}
		}
		return t.Plan.SetInProgress(instant)
	}
	return nil
}

// OnSuccess is invoked under lock after a successful agent run, before
// the running->idle transition.
func (t *Task) OnSuccess(result string) error {
	if t.Type == TaskTypePlanned && t.Plan != nil && t.Plan.InProgress != nil {
		return t.Plan.SetDone(*t.Plan.InProgress)
	}
	return nil
}

// OnError is invoked under lock after a failed agent run, before the
// running->error transition. A PlannedTask still advances in_progress
// to done on error -- leaving it stuck would block all future
// progression.
func (t *Task) OnError(agentErr string) error {
	if t.Type == TaskTypePlanned && t.Plan != nil && t.Plan.InProgress != nil {
		return t.Plan.SetDone(*t.Plan.InProgress)
	}
	return nil
}

// OnCancel is invoked under lock after a cancelled run. It is the only
// path that returns in_progress to the head of todo.
func (t *Task) OnCancel() error {
	if t.Type == TaskTypePlanned && t.Plan != nil && t.Plan.InProgress != nil {
		return t.Plan.RemoveInProgress()
	}
	return nil
}

// OnFinish runs on every outcome, including cancellation. Reserved for
// variant bookkeeping that must happen regardless of outcome; none of
// the three current variants need it, but the hook is kept so the
// Scheduler's background-run protocol has a single call site for all
// four hooks rather than special-casing "finish".
func (t *Task) OnFinish() {}

// Clone returns a deep copy suitable for returning from TaskStore.list/get.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Attachments = append([]string(nil), t.Attachments...)
	if t.LastRun != nil {
		lr := *t.LastRun
		cp.LastRun = &lr
	}
	if t.Schedule != nil {
		sched := *t.Schedule
		cp.Schedule = &sched
	}
	cp.Plan = t.Plan.Clone()
	return &cp
}
