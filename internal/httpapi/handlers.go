package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

// tickRequest / tickResponse implement scheduler_tick.
type tickRequest struct {
	WindowSeconds int `json:"window_seconds"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	window := time.Duration(0)
	if req.WindowSeconds > 0 {
		window = time.Duration(req.WindowSeconds) * time.Second
	}

	dispatched := s.sched.Tick(r.Context(), window)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dispatched": dispatched})
}

type uuidRequest struct {
	UUID string `json:"uuid"`
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	var req uuidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "invalid request body"})
		return
	}
	if req.UUID == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "uuid is required"})
		return
	}
	if _, err := s.sched.RunByUUID(r.Context(), req.UUID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// taskRequest is the wire shape shared by scheduler_task_create and
// scheduler_task_update: a superset of every variant's mutable fields.
type taskRequest struct {
	UUID          string                  `json:"uuid"`
	Type          scheduler.TaskType      `json:"type"`
	Name          string                  `json:"name"`
	Prompt        string                  `json:"prompt"`
	SystemPrompt  string                  `json:"system_prompt"`
	Attachments   []string                `json:"attachments"`
	CtxPlanning   scheduler.TriState      `json:"ctx_planning"`
	CtxReasoning  scheduler.TriState      `json:"ctx_reasoning"`
	CtxDeepSearch scheduler.TriState      `json:"ctx_deep_search"`
	State         *scheduler.TaskState    `json:"state"`
	Schedule      *scheduler.TaskSchedule `json:"schedule"`
	Token         *string                 `json:"token"`
	Plan          *scheduler.TaskPlan     `json:"plan"`
	MaxRetries    *int                    `json:"max_retries"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Message: "invalid request body"})
		return
	}

	if req.Name == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "name", Message: "name is required"})
		return
	}
	if req.Prompt == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "prompt", Message: "prompt is required"})
		return
	}
	if err := validatePrompt(req.Prompt, s.maxPromptTokens); err != nil {
		writeError(w, err)
		return
	}
	if err := validateAttachments(req.Attachments); err != nil {
		writeError(w, err)
		return
	}
	deepSearch := defaultDeepSearch(req.CtxDeepSearch)
	if err := validateDeepSearch(deepSearch); err != nil {
		writeError(w, err)
		return
	}

	task := &scheduler.Task{
		Type: req.Type,
		TaskHeader: scheduler.TaskHeader{
			Name:          req.Name,
			Prompt:        req.Prompt,
			SystemPrompt:  req.SystemPrompt,
			Attachments:   req.Attachments,
			CtxPlanning:   defaultTri(req.CtxPlanning),
			CtxReasoning:  defaultTri(req.CtxReasoning),
			CtxDeepSearch: deepSearch,
			MaxRetries:    intOrZero(req.MaxRetries),
		},
	}

	switch req.Type {
	case scheduler.TaskTypeScheduled:
		if err := validateSchedule(s.cron, req.Schedule); err != nil {
			writeError(w, err)
			return
		}
		task.Schedule = req.Schedule
	case scheduler.TaskTypeAdHoc:
		token := ""
		if req.Token != nil {
			token = *req.Token
		}
		if err := validateToken(token); err != nil {
			writeError(w, err)
			return
		}
		task.Token = token
	case scheduler.TaskTypePlanned:
		if err := validatePlan(req.Plan); err != nil {
			writeError(w, err)
			return
		}
		task.Plan = req.Plan
	default:
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "type",
			Message: "type must be one of scheduled, adhoc, planned"})
		return
	}

	stored, err := s.store.Add(task, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": stored})
}

func defaultTri(t scheduler.TriState) scheduler.TriState {
	if t == "" {
		return scheduler.TriAuto
	}
	return t
}

// defaultDeepSearch defaults ctx_deep_search to off; unlike the other
// two knobs it has no auto mode to fall back to.
func defaultDeepSearch(t scheduler.TriState) scheduler.TriState {
	if t == "" {
		return scheduler.TriOff
	}
	return t
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Message: "invalid request body"})
		return
	}
	if req.UUID == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "uuid is required"})
		return
	}

	if req.Prompt != "" {
		if err := validatePrompt(req.Prompt, s.maxPromptTokens); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := validateAttachments(req.Attachments); err != nil {
		writeError(w, err)
		return
	}
	if req.Schedule != nil {
		if err := validateSchedule(s.cron, req.Schedule); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CtxDeepSearch != "" {
		if err := validateDeepSearch(req.CtxDeepSearch); err != nil {
			writeError(w, err)
			return
		}
	}

	updated, err := s.store.Update(req.UUID, time.Now().UTC(), func(t *scheduler.Task) (scheduler.MutateResult, error) {
		if req.Name != "" {
			t.Name = req.Name
		}
		if req.Prompt != "" {
			t.Prompt = req.Prompt
		}
		if req.SystemPrompt != "" {
			t.SystemPrompt = req.SystemPrompt
		}
		if req.Attachments != nil {
			t.Attachments = req.Attachments
		}
		if req.CtxPlanning != "" {
			t.CtxPlanning = req.CtxPlanning
		}
		if req.CtxReasoning != "" {
			t.CtxReasoning = req.CtxReasoning
		}
		if req.CtxDeepSearch != "" {
			t.CtxDeepSearch = req.CtxDeepSearch
		}
		if req.Schedule != nil {
			t.Schedule = req.Schedule
		}
		if req.Token != nil {
			t.Token = *req.Token
		}
		if req.Plan != nil {
			t.Plan = req.Plan
		}
		if req.MaxRetries != nil {
			t.MaxRetries = *req.MaxRetries
		}
		if req.State != nil {
			// A caller may only ever request idle or disabled, and never
			// while a run is actually in flight: those are the only two
			// columns the user-facing update surface exposes, unlike the
			// full internal lifecycle adjacency canTransition enforces
			// underneath (e.g. running->error on agent failure).
			if t.State == scheduler.StateRunning {
				return scheduler.MutateAbort, &scheduler.Error{Kind: scheduler.KindConflict, Code: scheduler.CodeInvalidTransition,
					Field: "state", Message: "cannot change state of a running task"}
			}
			if *req.State != scheduler.StateIdle && *req.State != scheduler.StateDisabled {
				return scheduler.MutateAbort, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeInvalidTransition,
					Field: "state", Message: "state may only be set to idle or disabled"}
			}
			t.State = *req.State
		}
		return scheduler.MutateApply, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": updated})
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	var req uuidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "uuid is required"})
		return
	}
	if err := s.store.Remove(req.UUID); err != nil {
		writeError(w, err)
		return
	}
	// The task's context record must not outlive the task: delete it in
	// the same request, not on some later sweep.
	if s.ctxStore != nil {
		if err := s.ctxStore.Delete(r.Context(), req.UUID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	var req uuidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "uuid is required"})
		return
	}
	task, ok := s.store.Get(req.UUID)
	if !ok {
		writeError(w, &scheduler.Error{Kind: scheduler.KindNotFound, Code: "NotFound", Message: "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

type tasksListRequest struct {
	Filter string `json:"filter"`
	Sort   string `json:"sort"`
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	var req tasksListRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	tasks := s.store.List()
	filtered, err := applyFilter(tasks, req.Filter)
	if err != nil {
		writeError(w, err)
		return
	}
	sorted := applySort(filtered, req.Sort)
	writeJSON(w, http.StatusOK, map[string]any{"tasks": sorted})
}

// taskRunsRequest additionally accepts limit, since the run log can
// hold up to 200 entries, shared across all tasks.
type taskRunsRequest struct {
	UUID  string `json:"uuid"`
	Limit int    `json:"limit"`
}

// handleTaskRuns implements scheduler_task_runs: returns a task's
// current state alongside its recent execution history from the
// scheduler's run log.
func (s *Server) handleTaskRuns(w http.ResponseWriter, r *http.Request) {
	var req taskRunsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		writeError(w, &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "uuid", Message: "uuid is required"})
		return
	}
	task, ok := s.store.Get(req.UUID)
	if !ok {
		writeError(w, &scheduler.Error{Kind: scheduler.KindNotFound, Code: "NotFound", Message: "task not found"})
		return
	}
	runs := s.sched.RunLog(req.UUID, req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":        task.UUID,
		"last_run":    task.LastRun,
		"last_result": task.LastResult,
		"last_error":  task.LastError,
		"run_seq":     task.RunSeq,
		"state":       task.State,
		"runs":        runs,
	})
}
