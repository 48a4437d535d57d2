package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// TaskPlan is a progression of datetime waypoints partitioned into
// todo/in_progress/done. Any given instant appears in exactly one
// partition; todo is kept sorted ascending.
type TaskPlan struct {
	Todo       []time.Time `json:"todo"`
	InProgress *time.Time  `json:"in_progress,omitempty"`
	Done       []time.Time `json:"done"`
}

// Add inserts instant into Todo maintaining ascending order. No-op if
// the instant is already present in any partition.
func (p *TaskPlan) Add(instant time.Time) {
	instant = instant.UTC()
	if p.contains(instant) {
		return
	}
	idx := sort.Search(len(p.Todo), func(i int) bool { return !p.Todo[i].Before(instant) })
	p.Todo = append(p.Todo, time.Time{})
	copy(p.Todo[idx+1:], p.Todo[idx:])
	p.Todo[idx] = instant
}

func (p *TaskPlan) contains(instant time.Time) bool {
	for _, t := range p.Todo {
		if t.Equal(instant) {
			return true
		}
	}
	if p.InProgress != nil && p.InProgress.Equal(instant) {
		return true
	}
	for _, t := range p.Done {
		if t.Equal(instant) {
			return true
		}
	}
	return false
}

// ShouldLaunch returns Todo[0] iff present and <= now.
func (p *TaskPlan) ShouldLaunch(now time.Time) (time.Time, bool) {
	if len(p.Todo) == 0 {
		return time.Time{}, false
	}
	head := p.Todo[0]
	if head.After(now) {
		return time.Time{}, false
	}
	return head, true
}

// SetInProgress atomically moves instant from the head of Todo to
// InProgress. Precondition: instant == Todo[0] and InProgress is empty.
func (p *TaskPlan) SetInProgress(instant time.Time) error {
	if p.InProgress != nil {
		return fmt.Errorf("plan: in_progress already set")
	}
	if len(p.Todo) == 0 || !p.Todo[0].Equal(instant) {
		return fmt.Errorf("plan: instant is not the head of todo")
	}
	head := p.Todo[0]
	p.Todo = p.Todo[1:]
	p.InProgress = &head
	return nil
}

// SetDone atomically moves InProgress to Done and clears InProgress.
// Precondition: InProgress == instant.
func (p *TaskPlan) SetDone(instant time.Time) error {
	if p.InProgress == nil || !p.InProgress.Equal(instant) {
		return fmt.Errorf("plan: instant is not in_progress")
	}
	p.Done = append(p.Done, *p.InProgress)
	p.InProgress = nil
	return nil
}

// RemoveInProgress returns the in-progress item to the head of Todo.
// Used on cancellation.
func (p *TaskPlan) RemoveInProgress() error {
	if p.InProgress == nil {
		return fmt.Errorf("plan: no in_progress item")
	}
	restored := *p.InProgress
	p.InProgress = nil
	p.Todo = append([]time.Time{restored}, p.Todo...)
	return nil
}

// Clone returns a deep copy, used by TaskStore.list/get to avoid aliasing.
func (p *TaskPlan) Clone() *TaskPlan {
	if p == nil {
		return nil
	}
	cp := &TaskPlan{
		Todo: append([]time.Time(nil), p.Todo...),
		Done: append([]time.Time(nil), p.Done...),
	}
	if p.InProgress != nil {
		t := *p.InProgress
		cp.InProgress = &t
	}
	return cp
}
