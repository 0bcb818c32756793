package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"deskhooks/internal/model"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) EventTypesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    model.TaxonomyVersion,
		"eventTypes": model.Taxonomy(),
	})
}

// EmitHandler is the producer boundary: it queues deliveries and returns 202
// regardless of how many subscribers exist.
func (s *Server) EmitHandler(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p := principalFrom(r.Context())
	out, err := s.Publisher.Emit(r.Context(), p.Tenant, model.EventType(req.Event), req.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) CreateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var in model.WebhookInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	created, err := s.Service.Create(r.Context(), principalFrom(r.Context()).Tenant, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/webhooks/"+created.Webhook.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) ListWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Service.List(r.Context(), principalFrom(r.Context()).Tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, err := s.Service.Get(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) UpdateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var patch model.WebhookPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	hook, err := s.Service.Update(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) DeleteWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.Delete(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ToggleWebhookHandler(w http.ResponseWriter, r *http.Request) {
	hook, err := s.Service.ToggleActive(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

// RotateSecretHandler returns the new secret once; it cannot be listed later.
func (s *Server) RotateSecretHandler(w http.ResponseWriter, r *http.Request) {
	secret, err := s.Service.RegenerateSecret(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (s *Server) RevealSecretHandler(w http.ResponseWriter, r *http.Request) {
	secret, err := s.Service.RevealSecret(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (s *Server) ListDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid pagination", err.Error(), r.URL.Path)
		return
	}
	out, err := s.Service.ListDeliveries(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"], page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SendTestHandler reports the receiver's response inline. Nothing is recorded.
func (s *Server) SendTestHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.Service.SendTest(r.Context(), principalFrom(r.Context()).Tenant, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, testResult{
		Success:    out.Success,
		StatusCode: out.StatusCode,
		Error:      out.Error,
		DurationMs: out.Duration.Milliseconds(),
		Event:      model.EventTicketCreated,
	})
}

type testResult struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Event      model.EventType `json:"event"`
}
