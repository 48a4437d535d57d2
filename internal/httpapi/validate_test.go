package httpapi

import (
	"strings"
	"testing"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

func TestValidatePrompt_WithinBudget(t *testing.T) {
	if err := validatePrompt("a short prompt", 100); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidatePrompt_TooLong(t *testing.T) {
	if promptEncodingErr != nil {
		t.Skip("tiktoken encoder unavailable in this environment")
	}
	long := strings.Repeat("word ", 500)
	err := validatePrompt(long, 5)
	if err == nil {
		t.Fatal("expected PromptTooLong error")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodePromptTooLong {
		t.Fatalf("expected CodePromptTooLong, got %v", err)
	}
}

func TestValidateAttachments_RequiresAbsolutePaths(t *testing.T) {
	if err := validateAttachments([]string{"/tmp/a", "/tmp/b"}); err != nil {
		t.Fatalf("expected no error for absolute paths, got %v", err)
	}
	err := validateAttachments([]string{"relative/path"})
	if err == nil {
		t.Fatal("expected an error for a relative path")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodePathNotAbsolute {
		t.Fatalf("expected CodePathNotAbsolute, got %v", err)
	}
}

func TestValidateSchedule_NilSchedule(t *testing.T) {
	err := validateSchedule(scheduler.NewCronEvaluator(), nil)
	if err == nil {
		t.Fatal("expected an error for a nil schedule")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodeMissingField {
		t.Fatalf("expected CodeMissingField, got %v", err)
	}
}

func TestValidateSchedule_BadCron(t *testing.T) {
	sched := &scheduler.TaskSchedule{Minute: "99", Hour: "*", Day: "*", Month: "*", Weekday: "*"}
	err := validateSchedule(scheduler.NewCronEvaluator(), sched)
	if err == nil {
		t.Fatal("expected an error for an out-of-range minute field")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodeBadCron {
		t.Fatalf("expected CodeBadCron, got %v", err)
	}
}

func TestValidateSchedule_BadTimezone(t *testing.T) {
	sched := &scheduler.TaskSchedule{Minute: "0", Hour: "0", Day: "*", Month: "*", Weekday: "*", Timezone: "Not/AZone"}
	err := validateSchedule(scheduler.NewCronEvaluator(), sched)
	if err == nil {
		t.Fatal("expected an error for an unknown timezone")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodeBadTimezone {
		t.Fatalf("expected CodeBadTimezone, got %v", err)
	}
}

func TestValidateSchedule_Valid(t *testing.T) {
	sched := &scheduler.TaskSchedule{Minute: "0", Hour: "9", Day: "*", Month: "*", Weekday: "*", Timezone: "America/New_York"}
	if err := validateSchedule(scheduler.NewCronEvaluator(), sched); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateToken_Empty(t *testing.T) {
	err := validateToken("")
	if err == nil {
		t.Fatal("expected an error for an empty token")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodeBadToken {
		t.Fatalf("expected CodeBadToken, got %v", err)
	}
}

func TestValidateToken_NonEmpty(t *testing.T) {
	if err := validateToken("secret"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidatePlan_Nil(t *testing.T) {
	err := validatePlan(nil)
	if err == nil {
		t.Fatal("expected an error for a nil plan")
	}
	se, ok := err.(*scheduler.Error)
	if !ok || se.Code != scheduler.CodeMissingField {
		t.Fatalf("expected CodeMissingField, got %v", err)
	}
}

func TestValidatePlan_Empty(t *testing.T) {
	if err := validatePlan(&scheduler.TaskPlan{}); err != nil {
		t.Fatalf("expected an empty plan to be legal, got %v", err)
	}
}
