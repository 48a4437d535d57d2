package scheduler

import (
	"testing"
	"time"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTaskPlan_AddKeepsAscendingOrder(t *testing.T) {
	p := &TaskPlan{}
	t2 := mustTime("2026-01-02T00:00:00Z")
	t1 := mustTime("2026-01-01T00:00:00Z")
	t3 := mustTime("2026-01-03T00:00:00Z")

	p.Add(t2)
	p.Add(t1)
	p.Add(t3)

	if len(p.Todo) != 3 {
		t.Fatalf("expected 3 todo entries, got %d", len(p.Todo))
	}
	if !p.Todo[0].Equal(t1) || !p.Todo[1].Equal(t2) || !p.Todo[2].Equal(t3) {
		t.Fatalf("todo not sorted ascending: %v", p.Todo)
	}
}

func TestTaskPlan_AddIsIdempotent(t *testing.T) {
	p := &TaskPlan{}
	instant := mustTime("2026-01-01T00:00:00Z")
	p.Add(instant)
	p.Add(instant)
	if len(p.Todo) != 1 {
		t.Fatalf("expected Add to be a no-op for a duplicate instant, got %d entries", len(p.Todo))
	}
}

func TestTaskPlan_ShouldLaunch(t *testing.T) {
	p := &TaskPlan{}
	due := mustTime("2026-01-01T00:00:00Z")
	p.Add(due)

	if _, ok := p.ShouldLaunch(due.Add(-time.Minute)); ok {
		t.Fatal("should not be due before its instant")
	}
	got, ok := p.ShouldLaunch(due)
	if !ok || !got.Equal(due) {
		t.Fatalf("expected due at exactly the instant, got %v, %v", got, ok)
	}
}

func TestTaskPlan_EmptyTodoNeverLaunches(t *testing.T) {
	p := &TaskPlan{}
	if _, ok := p.ShouldLaunch(time.Now()); ok {
		t.Fatal("an empty plan must never be due")
	}
}

func TestTaskPlan_Progression(t *testing.T) {
	p := &TaskPlan{}
	t1 := mustTime("2026-01-01T00:00:00Z")
	t2 := mustTime("2026-01-02T00:00:00Z")
	p.Add(t1)
	p.Add(t2)

	if err := p.SetInProgress(t1); err != nil {
		t.Fatalf("SetInProgress: %v", err)
	}
	if p.InProgress == nil || !p.InProgress.Equal(t1) {
		t.Fatalf("expected in_progress == t1, got %v", p.InProgress)
	}
	if len(p.Todo) != 1 || !p.Todo[0].Equal(t2) {
		t.Fatalf("expected todo == [t2], got %v", p.Todo)
	}

	if err := p.SetDone(t1); err != nil {
		t.Fatalf("SetDone: %v", err)
	}
	if p.InProgress != nil {
		t.Fatal("expected in_progress cleared after SetDone")
	}
	if len(p.Done) != 1 || !p.Done[0].Equal(t1) {
		t.Fatalf("expected done == [t1], got %v", p.Done)
	}
}

func TestTaskPlan_SetInProgressRejectsWrongInstant(t *testing.T) {
	p := &TaskPlan{}
	t1 := mustTime("2026-01-01T00:00:00Z")
	t2 := mustTime("2026-01-02T00:00:00Z")
	p.Add(t1)
	p.Add(t2)

	if err := p.SetInProgress(t2); err == nil {
		t.Fatal("expected error when instant is not the head of todo")
	}
}

func TestTaskPlan_RemoveInProgressRestoresHead(t *testing.T) {
	p := &TaskPlan{}
	t1 := mustTime("2026-01-01T00:00:00Z")
	t2 := mustTime("2026-01-02T00:00:00Z")
	p.Add(t1)
	p.Add(t2)
	if err := p.SetInProgress(t1); err != nil {
		t.Fatalf("SetInProgress: %v", err)
	}

	if err := p.RemoveInProgress(); err != nil {
		t.Fatalf("RemoveInProgress: %v", err)
	}
	if p.InProgress != nil {
		t.Fatal("expected in_progress cleared")
	}
	if len(p.Todo) != 2 || !p.Todo[0].Equal(t1) {
		t.Fatalf("expected t1 restored to head of todo, got %v", p.Todo)
	}
}

func TestTaskPlan_Clone(t *testing.T) {
	p := &TaskPlan{}
	p.Add(mustTime("2026-01-01T00:00:00Z"))
	cp := p.Clone()
	cp.Add(mustTime("2026-02-01T00:00:00Z"))
	if len(p.Todo) == len(cp.Todo) {
		t.Fatal("expected Clone to be independent of the original")
	}
}

func TestTaskPlan_CloneNil(t *testing.T) {
	var p *TaskPlan
	if p.Clone() != nil {
		t.Fatal("expected Clone of a nil plan to return nil")
	}
}
