// Package api implements the HTTP management surface for webhooks.
package api

import (
	"context"
	"net/http"
	"strings"

	"deskhooks/internal/auth"
)

type ctxKeyPrincipal struct{}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// getPrincipal extracts tenant and role from the bearer token. In dev mode it
// falls back to X-Tenant-Id / X-Role headers.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		p, err := s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		return p, err == nil
	}
	if !s.Auth.Dev() {
		return auth.Principal{}, false
	}
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	role := auth.RoleAdmin
	if v := r.Header.Get("X-Role"); v != "" {
		parsed, ok := auth.ParseRole(v)
		if !ok {
			return auth.Principal{}, false
		}
		role = parsed
	}
	return auth.Principal{Tenant: tenant, Role: role}, true
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.getPrincipal(r)
		if !ok {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

// requireManager limits webhook administration to owners and admins.
func requireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).CanManageWebhooks() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
