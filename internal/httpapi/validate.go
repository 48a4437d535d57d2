package httpapi

import (
	"path/filepath"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

// promptEncoding is loaded once; cl100k_base covers the same token
// accounting the agent's own chat completions use.
var promptEncoding, promptEncodingErr = tiktoken.GetEncoding("cl100k_base")

// validatePrompt enforces the PromptTooLong validation error against
// the configured token budget. If the encoder failed to load, length
// checks are skipped rather than rejecting every request.
func validatePrompt(prompt string, maxTokens int) error {
	if promptEncodingErr != nil || promptEncoding == nil {
		return nil
	}
	tokens := promptEncoding.Encode(prompt, nil, nil)
	if len(tokens) > maxTokens {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodePromptTooLong, Field: "prompt",
			Message: "prompt exceeds the configured token budget"}
	}
	return nil
}

// validateAttachments requires every attachment path be absolute
// (PathNotAbsolute).
func validateAttachments(paths []string) error {
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodePathNotAbsolute, Field: "attachments",
				Message: "attachment path must be absolute: " + p}
		}
	}
	return nil
}

// validateSchedule checks the cron grammar and, if set, the IANA
// timezone of a ScheduledTask's schedule.
func validateSchedule(cron *scheduler.CronEvaluator, sched *scheduler.TaskSchedule) error {
	if sched == nil {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "schedule",
			Message: "scheduled tasks require a schedule"}
	}
	if !cron.IsValid(sched.Expr()) {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeBadCron, Field: "schedule",
			Message: "invalid cron expression: " + sched.Expr()}
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeBadTimezone, Field: "schedule.timezone",
				Message: "unknown timezone: " + sched.Timezone}
		}
	}
	return nil
}

// validateDeepSearch rejects anything but on/off for ctx_deep_search:
// unlike ctx_planning/ctx_reasoning, this knob has no auto mode.
func validateDeepSearch(v scheduler.TriState) error {
	if v != scheduler.TriOn && v != scheduler.TriOff {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "ctx_deep_search",
			Message: "ctx_deep_search must be on or off"}
	}
	return nil
}

// validateToken requires a non-empty token for an AdHocTask.
func validateToken(token string) error {
	if token == "" {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeBadToken, Field: "token",
			Message: "adhoc tasks require a non-empty token"}
	}
	return nil
}

// validatePlan requires a PlannedTask carry a plan: a nil plan on create
// is a missing-field error, while an empty plan is legal (it is simply
// never due).
func validatePlan(plan *scheduler.TaskPlan) error {
	if plan == nil {
		return &scheduler.Error{Kind: scheduler.KindValidation, Code: scheduler.CodeMissingField, Field: "plan",
			Message: "planned tasks require a plan"}
	}
	return nil
}
