package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskhooks/internal/model"
)

// Memory is a simple in-memory store used when no database URL is configured.
type Memory struct {
	mu       sync.Mutex
	webhooks map[string]*model.Webhook     // id -> webhook
	byTen    map[string][]string           // tenant -> webhook ids
	records  map[string][]memRecord        // webhook id -> attempts in insertion order
	jobs     map[string]*model.DeliveryJob // job id -> job
	seq      int64
	now      func() time.Time
}

type memRecord struct {
	model.DeliveryRecord
	seq int64
}

func NewMemory() *Memory {
	return &Memory{
		webhooks: map[string]*model.Webhook{},
		byTen:    map[string][]string{},
		records:  map[string][]memRecord{},
		jobs:     map[string]*model.DeliveryJob{},
		now:      time.Now,
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func cloneWebhook(w *model.Webhook) model.Webhook {
	out := *w
	out.Events = slices.Clone(w.Events)
	out.SealedSecret = slices.Clone(w.SealedSecret)
	if w.LastTriggeredAt != nil {
		t := *w.LastTriggeredAt
		out.LastTriggeredAt = &t
	}
	return out
}

func (m *Memory) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := m.now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	cp := cloneWebhook(&w)
	m.webhooks[w.ID] = &cp
	m.byTen[w.TenantID] = append(m.byTen[w.TenantID], w.ID)
	return cloneWebhook(&cp), nil
}

// lookup must be called with mu held.
func (m *Memory) lookup(tenantID, id string) (*model.Webhook, error) {
	w, ok := m.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return w, nil
}

func (m *Memory) GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.lookup(tenantID, id)
	if err != nil {
		return model.Webhook{}, err
	}
	return cloneWebhook(w), nil
}

func (m *Memory) ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.byTen[tenantID] {
		out = append(out, cloneWebhook(m.webhooks[id]))
	}
	return out, nil
}

func (m *Memory) UpdateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.lookup(w.TenantID, w.ID)
	if err != nil {
		return model.Webhook{}, err
	}
	cur.Name = w.Name
	cur.URL = w.URL
	cur.Events = slices.Clone(w.Events)
	cur.Description = w.Description
	cur.UpdatedAt = m.now().UTC()
	return cloneWebhook(cur), nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, id); err != nil {
		return err
	}
	delete(m.webhooks, id)
	delete(m.records, id)
	m.byTen[tenantID] = slices.DeleteFunc(m.byTen[tenantID], func(s string) bool { return s == id })
	for jid, j := range m.jobs {
		if j.WebhookID == id {
			delete(m.jobs, jid)
		}
	}
	return nil
}

func (m *Memory) SetActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.lookup(tenantID, id)
	if err != nil {
		return model.Webhook{}, err
	}
	w.Active = active
	w.AutoDisabled = false
	if active {
		w.FailureCount = 0
	}
	w.UpdatedAt = m.now().UTC()
	return cloneWebhook(w), nil
}

func (m *Memory) ReplaceSecret(ctx context.Context, tenantID, id string, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.lookup(tenantID, id)
	if err != nil {
		return err
	}
	w.SealedSecret = slices.Clone(sealed)
	w.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) FindSubscribers(ctx context.Context, tenantID string, e model.EventType) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.byTen[tenantID] {
		w := m.webhooks[id]
		if w.Active && w.Subscribes(e) {
			out = append(out, cloneWebhook(w))
		}
	}
	return out, nil
}

func (m *Memory) IncrementFailureCount(ctx context.Context, id string, threshold int) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	w.FailureCount++
	if w.FailureCount >= threshold && w.Active {
		w.Active = false
		w.AutoDisabled = true
	}
	w.UpdatedAt = m.now().UTC()
	return cloneWebhook(w), nil
}

func (m *Memory) ResetFailureCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	if w.FailureCount != 0 {
		w.FailureCount = 0
		w.UpdatedAt = m.now().UTC()
	}
	return nil
}

func (m *Memory) TouchTriggered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	w.LastTriggeredAt = &t
	return nil
}

// Ledger

func (m *Memory) AppendDelivery(ctx context.Context, rec model.DeliveryRecord) (model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[rec.WebhookID]; !ok {
		return model.DeliveryRecord{}, ErrNotFound
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	rec.Payload = slices.Clone(rec.Payload)
	m.seq++
	m.records[rec.WebhookID] = append(m.records[rec.WebhookID], memRecord{DeliveryRecord: rec, seq: m.seq})
	return rec, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, webhookID string, page Page) ([]model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page = page.Normalize()
	recs := slices.Clone(m.records[webhookID])
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})
	out := []model.DeliveryRecord{}
	for i := page.Offset(); i < len(recs) && len(out) < page.PerPage; i++ {
		out = append(out, recs[i].DeliveryRecord)
	}
	return out, nil
}

func (m *Memory) CountDeliveries(ctx context.Context, webhookID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[webhookID]), nil
}

// Queue

func (m *Memory) Enqueue(ctx context.Context, job model.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now().UTC()
	}
	m.jobs[job.ID] = &job
	return nil
}

func (m *Memory) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.DeliveryJob{}
	for _, j := range m.jobs {
		if !j.NotBefore.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NotBefore.Before(due[k].NotBefore) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]model.DeliveryJob, 0, len(due))
	for _, j := range due {
		out = append(out, *j)
		j.NotBefore = now.Add(lease)
	}
	return out, nil
}

func (m *Memory) Reschedule(ctx context.Context, job model.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Attempt = job.Attempt
	cur.NotBefore = job.NotBefore
	return nil
}

func (m *Memory) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// PendingJobs reports how many jobs are queued, due or not.
func (m *Memory) PendingJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
