package httpapi

import (
	"net"
	"net/http"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

// Server wires the Scheduler and TaskStore to the HTTP surface: one
// ServeMux, bearer auth on the task-management endpoints, loopback-only
// on scheduler_tick.
type Server struct {
	sched     *scheduler.Scheduler
	store     scheduler.TaskRepository
	ctxStore  scheduler.ContextStore
	cron      *scheduler.CronEvaluator
	authToken string
	limiter   *rateLimiter
	maxPromptTokens int
}

// Options bundles the Server's dependencies and tunables.
type Options struct {
	Scheduler          *scheduler.Scheduler
	Store              scheduler.TaskRepository
	ContextStore       scheduler.ContextStore
	Cron               *scheduler.CronEvaluator
	AuthToken          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxPromptTokens    int
}

// NewServer builds a Server ready to have its routes registered.
func NewServer(opts Options) *Server {
	maxTokens := opts.MaxPromptTokens
	if maxTokens <= 0 {
		maxTokens = 32000
	}
	return &Server{
		sched:           opts.Scheduler,
		store:           opts.Store,
		ctxStore:        opts.ContextStore,
		cron:            opts.Cron,
		authToken:       opts.AuthToken,
		limiter:         newRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
		maxPromptTokens: maxTokens,
	}
}

// RegisterRoutes mounts every scheduler endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /scheduler_tick", requireLoopback(s.handleTick))
	mux.HandleFunc("POST /scheduler_task_run", s.requireAuth(s.rateLimited(s.handleTaskRun)))
	mux.HandleFunc("POST /scheduler_task_create", s.requireAuth(s.rateLimited(s.handleTaskCreate)))
	mux.HandleFunc("POST /scheduler_task_update", s.requireAuth(s.rateLimited(s.handleTaskUpdate)))
	mux.HandleFunc("POST /scheduler_task_delete", s.requireAuth(s.rateLimited(s.handleTaskDelete)))
	mux.HandleFunc("POST /scheduler_tasks_list", s.requireAuth(s.rateLimited(s.handleTasksList)))
	mux.HandleFunc("POST /scheduler_task_get", s.requireAuth(s.rateLimited(s.handleTaskGet)))
	mux.HandleFunc("POST /scheduler_task_runs", s.requireAuth(s.rateLimited(s.handleTaskRuns)))
}

// rateLimited wraps next with the per-client-IP token bucket. Keyed on
// the host part of RemoteAddr since every authenticated caller here is a
// service client, not a browser behind a shared proxy.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !s.limiter.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, map[string]errorBody{
				"error": {Kind: "conflict", Message: "rate limit exceeded"},
			})
			return
		}
		next(w, r)
	}
}
