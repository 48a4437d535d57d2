package scheduler

import "context"

// PromptBundle is the payload handed to AgentRunner.Run for a single
// task execution.
type PromptBundle struct {
	SystemPrompt  string
	Prompt        string
	Attachments   []string
	CtxPlanning   TriState
	CtxReasoning  TriState
	CtxDeepSearch TriState
	ContextRef    string
}

// AgentRunner is the black-box collaborator that consumes a prompt
// bundle and yields a string result. The scheduler never inspects the
// agent's internals; it only starts a run and waits for ctx cancellation
// or completion. Implementations must return promptly after ctx is
// cancelled -- the scheduler treats a run that ignores cancellation past
// its grace period as cancelled anyway and discards any later result via
// the run_seq check.
type AgentRunner interface {
	Run(ctx context.Context, bundle PromptBundle) (string, error)
}

// AgentRunnerFunc adapts a plain function to the AgentRunner interface,
// mirroring the http.HandlerFunc idiom used elsewhere in this codebase.
type AgentRunnerFunc func(ctx context.Context, bundle PromptBundle) (string, error)

func (f AgentRunnerFunc) Run(ctx context.Context, bundle PromptBundle) (string, error) {
	return f(ctx, bundle)
}
