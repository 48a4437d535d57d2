package httpapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

// filterEnv is the CEL environment for scheduler_tasks_list's optional
// filter expression. Expressions see the task's header fields as plain
// variables, e.g. `state == "idle" && type == "scheduled"`.
var filterEnv = mustFilterEnv()

func mustFilterEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("uuid", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("has_error", cel.BoolType),
	)
	if err != nil {
		panic(fmt.Sprintf("httpapi: filter env: %v", err))
	}
	return env
}

// applyFilter narrows tasks to those matching a CEL boolean expression.
// An empty expr matches everything.
func applyFilter(tasks []*scheduler.Task, expr string) ([]*scheduler.Task, error) {
	if strings.TrimSpace(expr) == "" {
		return tasks, nil
	}

	ast, iss := filterEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, &scheduler.Error{Kind: scheduler.KindValidation, Code: "BadFilter", Field: "filter", Message: iss.Err().Error()}
	}
	prg, err := filterEnv.Program(ast)
	if err != nil {
		return nil, &scheduler.Error{Kind: scheduler.KindValidation, Code: "BadFilter", Field: "filter", Message: err.Error()}
	}

	var out []*scheduler.Task
	for _, t := range tasks {
		val, _, err := prg.Eval(map[string]interface{}{
			"uuid":      t.UUID,
			"name":      t.Name,
			"type":      string(t.Type),
			"state":     string(t.State),
			"has_error": t.LastError != "",
		})
		if err != nil {
			return nil, &scheduler.Error{Kind: scheduler.KindValidation, Code: "BadFilter", Field: "filter", Message: err.Error()}
		}
		if match, ok := val.Value().(bool); ok && match {
			out = append(out, t)
		}
	}
	return out, nil
}

// applySort orders tasks by a field name, optionally prefixed with "-"
// for descending order. Supported fields: name, created_at, updated_at.
func applySort(tasks []*scheduler.Task, field string) []*scheduler.Task {
	field = strings.TrimSpace(field)
	if field == "" {
		return tasks
	}
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")

	less := func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch field {
		case "name":
			return a.Name < b.Name
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		default:
			return false
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
	return tasks
}
