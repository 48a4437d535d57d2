package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTickWindow is the default window passed to Tick when the
	// caller omits one; it must equal the external driver's polling
	// period.
	DefaultTickWindow = 60 * time.Second

	// DefaultCancelGrace bounds how long cancel() waits for an
	// AgentRunner to honor its cancellation token before the Scheduler
	// proceeds to on_cancel unilaterally.
	DefaultCancelGrace = 30 * time.Second
)

// RunAck is returned by RunByUUID on successful dispatch.
type RunAck struct {
	UUID string
}

// runHandle tracks the in-flight state for one uuid's active execution,
// letting cancel() signal it and letting stale completions be detected
// via RunSeq.
type runHandle struct {
	runSeq int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler is the orchestration layer composing Clock, TaskStore,
// CronEvaluator, ContextStore, AgentRunner and a bounded WorkerPool. It
// is process-wide state with an explicit init/running/shutdown
// lifecycle; callers construct one with New and must not construct it
// lazily.
type Scheduler struct {
	clock    Clock
	store    TaskRepository
	cron     *CronEvaluator
	ctxStore ContextStore
	agent    AgentRunner
	pool     *WorkerPool

	cancelGrace time.Duration
	runLog      *RunLog

	mu      sync.Mutex
	running map[string]*runHandle
}

// Config bundles the Scheduler's dependencies and tunables.
type Config struct {
	Clock          Clock
	Store          TaskRepository
	Cron           *CronEvaluator
	ContextStore   ContextStore
	Agent          AgentRunner
	MaxParallelism int
	CancelGrace    time.Duration
	RunLogSize     int
}

// New builds a Scheduler in the "init" phase; callers should call
// Start before issuing Tick/RunByUUID calls, and Shutdown when done.
func New(cfg Config) *Scheduler {
	grace := cfg.CancelGrace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	return &Scheduler{
		clock:       cfg.Clock,
		store:       cfg.Store,
		cron:        cfg.Cron,
		ctxStore:    cfg.ContextStore,
		agent:       cfg.Agent,
		pool:        NewWorkerPool(cfg.MaxParallelism),
		cancelGrace: grace,
		runLog:      NewRunLog(cfg.RunLogSize),
		running:     make(map[string]*runHandle),
	}
}

// RunLog returns up to limit recent execution records for uuid, most
// recent first.
func (s *Scheduler) RunLog(uuid string, limit int) []ExecutionRecord {
	return s.runLog.For(uuid, limit)
}

// Start transitions the Scheduler into "running". Currently a no-op
// beyond documenting the lifecycle boundary; reserved for future
// startup work (e.g. warming caches) without requiring callers to
// change their init sequence.
func (s *Scheduler) Start() error {
	return nil
}

// Shutdown waits for in-flight runs to finish and closes the store's
// file watcher. Stopping new dispatches (no further Tick/RunByUUID
// calls) is the caller's responsibility.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.store.Close()
}

// Tick reloads the store, discovers due tasks within window, and
// dispatches a background run for each. It returns immediately; the
// returned count is the number of runs actually dispatched (excluding
// any dropped by worker-pool saturation).
func (s *Scheduler) Tick(ctx context.Context, window time.Duration) int {
	if window <= 0 {
		window = DefaultTickWindow
	}
	ticksTotal.Inc()

	tctx, span := startTickSpan(ctx, window.String())
	defer span.End()

	if _, err := s.store.Reload(); err != nil {
		slog.Error("scheduler: tick reload failed", "error", err)
		return 0
	}

	due := s.store.DueTasks(s.clock, s.cron, window)
	dispatched := 0
	for _, t := range due {
		if ok, _ := s.dispatch(tctx, t.UUID); ok {
			dispatched++
		}
	}
	return dispatched
}

// RunByUUID manually triggers task uuid. It verifies state idle,
// transitions to running under the store lock, and dispatches a
// background run; the function returns once that transition has been
// persisted, before the agent call completes.
func (s *Scheduler) RunByUUID(ctx context.Context, uuid string) (*RunAck, error) {
	if _, err := s.dispatch(ctx, uuid); err != nil {
		return nil, err
	}
	return &RunAck{UUID: uuid}, nil
}

// dispatch performs the acquire-and-transition step synchronously, then
// hands the agent call + lifecycle dispatch to the worker pool. Returns
// a typed *Error if the transition was rejected (NotFound, AlreadyRunning,
// Disabled) or the pool was saturated (in which case the transition is
// rolled back so the task stays due).
func (s *Scheduler) dispatch(ctx context.Context, taskUUID string) (bool, error) {
	now := s.clock.Now()

	var seq int64
	var abortErr *Error
	updated, err := s.store.Update(taskUUID, now, func(t *Task) (MutateResult, error) {
		switch t.State {
		case StateRunning:
			abortErr = &Error{Kind: KindConflict, Code: CodeAlreadyRunning, Message: "task is already running"}
			return MutateAbort, nil
		case StateDisabled:
			abortErr = &Error{Kind: KindConflict, Code: CodeDisabled, Message: "task is disabled"}
			return MutateAbort, nil
		case StateError:
			// error state is not idle, but it's also not a conflict the
			// caller needs a named code for here -- treat as "not due".
			abortErr = &Error{Kind: KindConflict, Code: CodeInvalidTransition, Message: "task is not idle"}
			return MutateAbort, nil
		}
		if err := t.OnRun(now); err != nil {
			return MutateAbort, err
		}
		t.State = StateRunning
		t.RunSeq++
		seq = t.RunSeq
		return MutateApply, nil
	})
	if err != nil {
		if IsNotFound(err) {
			return false, err
		}
		slog.Error("scheduler: dispatch transition failed", "task_uuid", taskUUID, "error", err)
		return false, err
	}
	if updated.State != StateRunning {
		if abortErr != nil {
			return false, abortErr
		}
		return false, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{runSeq: seq, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[taskUUID] = handle
	s.mu.Unlock()

	runsDispatchedTotal.WithLabelValues(string(updated.Type)).Inc()
	activeRuns.Inc()

	submitted := s.pool.Submit(taskUUID, func() {
		defer activeRuns.Dec()
		defer close(handle.done)
		s.executeRun(runCtx, taskUUID, seq)
	})
	if !submitted {
		activeRuns.Dec()
		close(handle.done)
		runsDroppedTotal.Inc()
		cancel()
		s.mu.Lock()
		delete(s.running, taskUUID)
		s.mu.Unlock()

		// Roll the transition back so the task remains idle/due.
		_, _ = s.store.Update(taskUUID, s.clock.Now(), func(t *Task) (MutateResult, error) {
			if t.State != StateRunning || t.RunSeq != seq {
				return MutateAbort, nil
			}
			if err := t.OnCancel(); err != nil {
				return MutateAbort, err
			}
			t.State = StateIdle
			return MutateApply, nil
		})
		return false, &Error{Kind: KindConflict, Code: CodeAlreadyRunning, Message: "worker pool saturated", Wrapped: ErrQueueFull}
	}
	return true, nil
}

// executeRun is the background-run protocol body: it resolves context,
// invokes the agent, and dispatches the lifecycle hooks matching the
// outcome.
func (s *Scheduler) executeRun(ctx context.Context, taskUUID string, seq int64) {
	t, ok := s.store.Get(taskUUID)
	if !ok {
		return
	}

	runCtx, span := startRunSpan(ctx, taskUUID, string(t.Type), t.Name)
	defer func() {
		s.mu.Lock()
		delete(s.running, taskUUID)
		s.mu.Unlock()
	}()

	start := time.Now()

	contextRef, err := s.ctxStore.GetOrCreate(runCtx, taskUUID)
	if err != nil {
		s.finishRun(taskUUID, seq, "", err, outcomeError, false)
		s.recordExecution(taskUUID, seq, start, 1, outcomeError, "", err)
		endRunSpan(span, string(outcomeError), err)
		runDuration.WithLabelValues(string(t.Type)).Observe(time.Since(start).Seconds())
		return
	}

	bundle := PromptBundle{
		SystemPrompt:  t.SystemPrompt,
		Prompt:        t.Prompt,
		Attachments:   t.Attachments,
		CtxPlanning:   t.CtxPlanning,
		CtxReasoning:  t.CtxReasoning,
		CtxDeepSearch: t.CtxDeepSearch,
		ContextRef:    contextRef,
	}

	retryCfg := DefaultRetryConfig()
	retryCfg.MaxRetries = t.MaxRetries
	result, attempts, runErr := executeWithRetry(runCtx, retryCfg, func() (string, error) {
		return s.agent.Run(runCtx, bundle)
	})

	outcome := outcomeSuccess
	if runCtx.Err() != nil {
		outcome = outcomeCancelled
	} else if runErr != nil {
		outcome = outcomeError
	}

	s.finishRun(taskUUID, seq, result, runErr, outcome, false)
	s.recordExecution(taskUUID, seq, start, attempts, outcome, result, runErr)

	var endErr error
	if outcome != outcomeSuccess {
		if runErr != nil {
			endErr = runErr
		} else {
			endErr = context.Canceled
		}
	}
	endRunSpan(span, string(outcome), endErr)
	runOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	runDuration.WithLabelValues(string(t.Type)).Observe(time.Since(start).Seconds())
}

// recordExecution appends an ExecutionRecord to the scheduler's run log.
func (s *Scheduler) recordExecution(taskUUID string, seq int64, start time.Time, attempts int, outcome runOutcome, result string, runErr error) {
	rec := ExecutionRecord{
		UUID:       taskUUID,
		RunSeq:     seq,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Attempts:   attempts,
		Outcome:    string(outcome),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	} else {
		rec.Summary = TruncateOutput(result)
	}
	s.runLog.Record(rec)
}

type runOutcome string

const (
	outcomeSuccess   runOutcome = "success"
	outcomeError     runOutcome = "error"
	outcomeCancelled runOutcome = "cancelled"
)

// finishRun applies the lifecycle hooks matching outcome under the
// store lock, discarding the write if seq is stale (a cancellation
// raced ahead of this completion). When invalidateSeq is set, RunSeq is
// bumped as part of this same update so that a genuine completion of
// this run arriving later (already accounted for here, e.g. a grace-
// period timeout forcing the task idle while the agent keeps running)
// is recognized as stale rather than re-applied on top of this outcome.
func (s *Scheduler) finishRun(taskUUID string, seq int64, result string, runErr error, outcome runOutcome, invalidateSeq bool) {
	now := s.clock.Now()

	_, err := s.store.Update(taskUUID, now, func(t *Task) (MutateResult, error) {
		if t.RunSeq != seq {
			// Stale/zombie completion; a newer run (or a cancel) has
			// already superseded this one.
			return MutateAbort, nil
		}

		switch outcome {
		case outcomeSuccess:
			if err := t.OnSuccess(result); err != nil {
				return MutateAbort, err
			}
			t.State = StateIdle
			t.LastRun = &now
			t.LastResult = TruncateOutput(result)
			t.LastError = ""
		case outcomeError:
			if err := t.OnError(runErr.Error()); err != nil {
				return MutateAbort, err
			}
			t.State = StateError
			t.LastRun = &now
			t.LastError = runErr.Error()
		case outcomeCancelled:
			if err := t.OnCancel(); err != nil {
				return MutateAbort, err
			}
			t.State = StateIdle
		}
		if invalidateSeq {
			t.RunSeq++
		}
		t.OnFinish()
		return MutateApply, nil
	})
	if err != nil {
		slog.Error("scheduler: finishRun persist failed", "task_uuid", taskUUID, "error", err)
	}
}

// Cancel best-effort cancels the in-flight run for uuid. It signals the
// run's context immediately; if the agent does not return within the
// configured grace period, the Scheduler proceeds to on_cancel anyway
// and marks the task idle, discarding any result the agent produces
// afterward via the run_seq check in finishRun.
func (s *Scheduler) Cancel(uuid string) error {
	s.mu.Lock()
	handle, ok := s.running[uuid]
	s.mu.Unlock()
	if !ok {
		return errNotFound("task has no in-flight run")
	}

	handle.cancel()

	go func() {
		timer := time.NewTimer(s.cancelGrace)
		defer timer.Stop()
		select {
		case <-handle.done:
		case <-timer.C:
			slog.Warn("scheduler: agent did not honor cancellation within grace period", "task_uuid", uuid)
			// invalidateSeq: the agent goroutine is abandoned, not
			// killed, so its eventual completion must not be allowed to
			// overwrite the forced-idle outcome applied here.
			s.finishRun(uuid, handle.runSeq, "", nil, outcomeCancelled, true)
		}
	}()
	return nil
}
