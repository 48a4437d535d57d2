package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ehlowr0ld/taskscheduler/internal/scheduler"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the user-visible failure shape:
// {error: {kind, message, field?}}.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeError maps err to the HTTP status and body matching its error
// kind, falling back to 500 for anything untyped.
func writeError(w http.ResponseWriter, err error) {
	var se *scheduler.Error
	if errors.As(err, &se) {
		writeJSON(w, statusForKind(se.Kind), map[string]errorBody{
			"error": {Kind: string(se.Kind), Message: se.Message, Field: se.Field},
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]errorBody{
		"error": {Kind: "persistence", Message: err.Error()},
	})
}

func statusForKind(kind scheduler.ErrorKind) int {
	switch kind {
	case scheduler.KindValidation:
		return http.StatusBadRequest
	case scheduler.KindConflict:
		return http.StatusConflict
	case scheduler.KindNotFound:
		return http.StatusNotFound
	case scheduler.KindAuth:
		return http.StatusUnauthorized
	case scheduler.KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
