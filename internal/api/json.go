package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"deskhooks/internal/store"
	"deskhooks/internal/webhooks"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps service errors onto problem responses. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *webhooks.ValidationError
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(Problem{
			Type: "about:blank", Title: "Validation failed", Status: http.StatusUnprocessableEntity,
			Detail: ve.Message, Instance: r.URL.Path, Field: ve.Field,
		})
	case errors.Is(err, webhooks.ErrValidation):
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	case errors.Is(err, webhooks.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "Forbidden", "", r.URL.Path)
	default:
		s.Log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "", r.URL.Path)
	}
}
