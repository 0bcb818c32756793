package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskhooks/internal/model"
	"deskhooks/internal/secrets"
	"deskhooks/internal/store"
)

type captured struct {
	Header http.Header
	Body   []byte
}

// endpoint is a receiver that answers with whatever status is current and
// remembers every request it saw.
type endpoint struct {
	*httptest.Server
	mu     sync.Mutex
	status int
	body   string
	reqs   []captured
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	e := &endpoint{status: status}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.reqs = append(e.reqs, captured{Header: r.Header.Clone(), Body: buf})
		status, body := e.status, e.body
		e.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(e.Close)
	return e
}

func (e *endpoint) set(status int, body string) {
	e.mu.Lock()
	e.status, e.body = status, body
	e.mu.Unlock()
}

func (e *endpoint) requests() []captured {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]captured(nil), e.reqs...)
}

type testEnv struct {
	mem    *store.Memory
	sealer *secrets.Sealer
	svc    *Service
	worker *Worker
	clock  time.Time
	tenant string
}

func newTestEnv(t *testing.T, client *http.Client) *testEnv {
	t.Helper()
	sealer, err := secrets.NewSealerFromString("test-key")
	require.NoError(t, err)
	mem := store.NewMemory()
	exec := NewExecutor(client, 2*time.Second)
	svc := NewService(mem, sealer, exec, zap.NewNop())
	svc.AllowInsecureURLs = true
	env := &testEnv{mem: mem, sealer: sealer, svc: svc, tenant: "t1", clock: time.Now()}
	env.worker = NewWorker(mem, sealer, exec, zap.NewNop(), WorkerConfig{Concurrency: 2})
	env.worker.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) createWebhook(t *testing.T, url string, events ...string) Created {
	t.Helper()
	if len(events) == 0 {
		events = []string{string(model.EventTicketCreated)}
	}
	c, err := e.svc.Create(context.Background(), e.tenant, model.WebhookInput{Name: "hook", URL: url, Events: events})
	require.NoError(t, err)
	return c
}

func (e *testEnv) enqueue(t *testing.T, webhookID string) {
	t.Helper()
	require.NoError(t, e.mem.Enqueue(context.Background(), model.DeliveryJob{
		TenantID:  e.tenant,
		WebhookID: webhookID,
		EventID:   "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		EventType: model.EventTicketCreated,
		Data:      []byte(`{"ticket":{"id":"1"}}`),
		Attempt:   1,
		NotBefore: e.clock,
	}))
}

func (e *testEnv) advance(d time.Duration) { e.clock = e.clock.Add(d) }
