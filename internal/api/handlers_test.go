package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskhooks/internal/auth"
	"deskhooks/internal/config"
	"deskhooks/internal/metrics"
	"deskhooks/internal/secrets"
	"deskhooks/internal/store"
	"deskhooks/internal/webhooks"
)

type receiver struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	status int
}

func newReceiver(t *testing.T) (*receiver, *httptest.Server) {
	t.Helper()
	rc := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, b)
		rc.sigs = append(rc.sigs, r.Header.Get(webhooks.HeaderSignature))
		status := rc.status
		rc.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return rc, srv
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.bodies)
}

type apiEnv struct {
	srv    *Server
	router http.Handler
	mem    *store.Memory
}

func newAPIEnv(t *testing.T, v *auth.Verifier) *apiEnv {
	t.Helper()
	metrics.RegisterDefault()
	mem := store.NewMemory()
	sealer, err := secrets.NewSealerFromString("api-test-key")
	require.NoError(t, err)
	log := zap.NewNop()
	exec := webhooks.NewExecutor(webhooks.NewHTTPClient(), 2*time.Second)
	svc := webhooks.NewService(mem, sealer, exec, log)
	svc.AllowInsecureURLs = true
	if v == nil {
		v = auth.NewVerifier(auth.ModeDev, nil)
	}
	cfg := &config.Config{}
	cfg.Auth.Mode = v.Mode
	cfg.Database.URL = "postgres://user:pw@db/deskhooks"
	s := NewServer(svc, webhooks.NewPublisher(mem, log), mem, v, cfg, log)
	return &apiEnv{srv: s, router: s.Router(), mem: mem}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *apiEnv) createHook(t *testing.T, url string) webhooks.Created {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/webhooks", "t1:admin", map[string]any{
		"name":   "CRM sync",
		"url":    url,
		"events": []string{"ticket.created", "ticket.closed"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[webhooks.Created](t, rr)
}

func TestHealthReady(t *testing.T) {
	e := newAPIEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestOpsEndpoints(t *testing.T) {
	e := newAPIEnv(t, nil)

	rr := e.do(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[map[string]any](t, rr)
	assert.Equal(t, "3.0.3", doc["openapi"])

	rr = e.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/webhooks/{id}/deliveries")

	rr = e.do(t, http.MethodGet, "/debug/info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "user:pw")
	assert.Contains(t, rr.Body.String(), "Deskhooks-Webhook/1.0")

	e.do(t, http.MethodGet, "/healthz", "", nil)
	rr = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestWebhookLifecycle(t *testing.T) {
	e := newAPIEnv(t, nil)
	_, rcv := newReceiver(t)
	created := e.createHook(t, rcv.URL)
	assert.NotEmpty(t, created.Secret)
	assert.True(t, created.Webhook.Active)
	id := created.Webhook.ID

	rr := e.do(t, http.MethodGet, "/v1/webhooks", "t1:admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), created.Secret)
	list := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, rr)
	assert.Len(t, list.Items, 1)

	rr = e.do(t, http.MethodPatch, "/v1/webhooks/"+id, "t1:admin", map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Renamed", decode[map[string]any](t, rr)["name"])

	rr = e.do(t, http.MethodPost, "/v1/webhooks/"+id+"/toggle", "t1:admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode[map[string]any](t, rr)["active"])

	rr = e.do(t, http.MethodDelete, "/v1/webhooks/"+id, "t1:admin", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+id, "t1:admin", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestCreateValidation(t *testing.T) {
	e := newAPIEnv(t, nil)
	rr := e.do(t, http.MethodPost, "/v1/webhooks", "t1:admin", map[string]any{
		"name": "x", "url": "https://example.com/h", "events": []string{"ticket.deleted"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	p := decode[Problem](t, rr)
	assert.Equal(t, "events", p.Field)

	rr = e.do(t, http.MethodPost, "/v1/webhooks", "t1:admin", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTenantIsolation(t *testing.T) {
	e := newAPIEnv(t, nil)
	created := e.createHook(t, "https://example.com/hook")
	rr := e.do(t, http.MethodGet, "/v1/webhooks/"+created.Webhook.ID, "t2:admin", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoleChecks(t *testing.T) {
	e := newAPIEnv(t, nil)
	created := e.createHook(t, "https://example.com/hook")
	id := created.Webhook.ID

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/webhooks", "t1:agent", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/webhooks/"+id+"/secret", "t1:admin", nil).Code)

	rr := e.do(t, http.MethodGet, "/v1/webhooks/"+id+"/secret", "t1:owner", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.Secret, decode[map[string]string](t, rr)["secret"])
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = e.do(t, http.MethodPost, "/v1/webhooks/"+id+"/secret", "t1:admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rotated := decode[map[string]string](t, rr)["secret"]
	assert.NotEqual(t, created.Secret, rotated)

	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+id+"/secret", "t1:owner", nil)
	assert.Equal(t, rotated, decode[map[string]string](t, rr)["secret"])

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/webhooks", "t1:superuser", nil).Code)
}

func TestDevHeaderFallback(t *testing.T) {
	e := newAPIEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/event-types", nil)
	req.Header.Set("X-Tenant-Id", "t9")
	req.Header.Set("X-Role", "agent")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode[struct {
		Version    int              `json:"version"`
		EventTypes []map[string]any `json:"eventTypes"`
	}](t, rr)
	assert.Equal(t, 1, out.Version)
	assert.Len(t, out.EventTypes, 7)
}

func TestHMACMode(t *testing.T) {
	secret := []byte("jwt-secret")
	e := newAPIEnv(t, auth.NewVerifier(auth.ModeHMAC, secret))

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/event-types", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/v1/event-types", "t1:admin", nil).Code)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant": "t1", "role": "admin", "sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/webhooks", tok, nil).Code)
}

func TestEmitQueuesAndListDeliveries(t *testing.T) {
	e := newAPIEnv(t, nil)
	rcv, srv := newReceiver(t)
	created := e.createHook(t, srv.URL)

	rr := e.do(t, http.MethodPost, "/v1/events", "t1:agent", map[string]any{
		"event": "ticket.created",
		"data":  map[string]any{"ticket": map[string]any{"id": "42"}},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	out := decode[webhooks.Emitted](t, rr)
	assert.Equal(t, 1, out.Queued)
	assert.NotEmpty(t, out.EventID)
	assert.Equal(t, 1, e.mem.PendingJobs())

	rr = e.do(t, http.MethodPost, "/v1/events", "t1:agent", map[string]any{"event": "ticket.deleted"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	sealer, err := secrets.NewSealerFromString("api-test-key")
	require.NoError(t, err)
	cfg := webhooks.DefaultWorkerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := webhooks.NewWorker(e.mem, sealer, webhooks.NewExecutor(webhooks.NewHTTPClient(), time.Second), zap.NewNop(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = w.Run(ctx); close(done) }()
	require.Eventually(t, func() bool { return rcv.count() == 1 && e.mem.PendingJobs() == 0 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	rcv.mu.Lock()
	body, sig := rcv.bodies[0], rcv.sigs[0]
	rcv.mu.Unlock()
	assert.True(t, webhooks.Verify(created.Secret, body, sig))

	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+created.Webhook.ID+"/deliveries?per_page=10", "t1:admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[webhooks.DeliveryPage](t, rr)
	require.Len(t, page.Records, 1)
	assert.True(t, page.Records[0].Success)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 10, page.PerPage)

	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+created.Webhook.ID+"/deliveries?page=0", "t1:admin", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendTestEndpoint(t *testing.T) {
	e := newAPIEnv(t, nil)
	rcv, srv := newReceiver(t)
	created := e.createHook(t, srv.URL)
	rcv.mu.Lock()
	rcv.status = http.StatusInternalServerError
	rcv.mu.Unlock()

	rr := e.do(t, http.MethodPost, "/v1/webhooks/"+created.Webhook.ID+"/test", "t1:admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[testResult](t, rr)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, 1, rcv.count())

	n, err := e.mem.CountDeliveries(context.Background(), created.Webhook.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
