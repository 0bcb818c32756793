package api

import (
	"net/http"
	"time"

	"deskhooks/internal/buildinfo"
)

// DebugJSON reports build info and a redacted view of the running config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if c := s.Config; c != nil {
		info["config"] = map[string]any{
			"port":              c.Server.Port,
			"authMode":          c.Auth.Mode,
			"hasDatabaseURL":    c.Database.URL != "",
			"hasRedisURL":       c.Redis.URL != "",
			"maxAttempts":       c.Webhooks.MaxAttempts,
			"baseDelay":         c.Webhooks.BaseDelay.String(),
			"maxDelay":          c.Webhooks.MaxDelay.String(),
			"timeout":           c.Webhooks.Timeout.String(),
			"concurrency":       c.Webhooks.Concurrency,
			"ratePerSecond":     c.Webhooks.RatePerSecond,
			"allowInsecureURLs": c.Webhooks.AllowInsecureURLs,
		}
	}
	writeJSON(w, http.StatusOK, info)
}
