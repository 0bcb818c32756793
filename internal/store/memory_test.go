package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskhooks/internal/model"
)

func seedWebhook(t *testing.T, m *Memory, tenant string, events ...model.EventType) model.Webhook {
	t.Helper()
	w, err := m.CreateWebhook(context.Background(), model.Webhook{
		TenantID:     tenant,
		Name:         "hook",
		URL:          "https://example.com/hook",
		SealedSecret: []byte("sealed"),
		Events:       events,
		Format:       model.FormatJSON,
		Active:       true,
	})
	require.NoError(t, err)
	return w
}

func TestMemoryFindSubscribers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := seedWebhook(t, m, "t1", model.EventTicketCreated, model.EventReplyReceived)
	b := seedWebhook(t, m, "t1", model.EventTicketAssigned)
	seedWebhook(t, m, "t2", model.EventTicketCreated)
	c := seedWebhook(t, m, "t1", model.EventTicketCreated)
	_, err := m.SetActive(ctx, "t1", c.ID, false)
	require.NoError(t, err)

	subs, err := m.FindSubscribers(ctx, "t1", model.EventTicketCreated)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, a.ID, subs[0].ID)

	subs, err = m.FindSubscribers(ctx, "t1", model.EventTicketAssigned)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, b.ID, subs[0].ID)
}

func TestMemoryTenantIsolation(t *testing.T) {
	m := NewMemory()
	w := seedWebhook(t, m, "t1", model.EventTicketCreated)
	_, err := m.GetWebhook(context.Background(), "t2", w.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteWebhook(context.Background(), "t2", w.ID), ErrNotFound)
}

func TestMemoryIncrementFailureCountDisablesAtThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := seedWebhook(t, m, "t1", model.EventTicketCreated)
	for i := 0; i < 9; i++ {
		got, err := m.IncrementFailureCount(ctx, w.ID, model.DisableThreshold)
		require.NoError(t, err)
		assert.True(t, got.Active)
	}
	got, err := m.IncrementFailureCount(ctx, w.ID, model.DisableThreshold)
	require.NoError(t, err)
	assert.Equal(t, 10, got.FailureCount)
	assert.False(t, got.Active)
	assert.True(t, got.AutoDisabled)

	got, err = m.SetActive(ctx, "t1", w.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.False(t, got.AutoDisabled)
	assert.Zero(t, got.FailureCount)
}

func TestMemoryIncrementFailureCountConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := seedWebhook(t, m, "t1", model.EventTicketCreated)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrementFailureCount(ctx, w.ID, 1000)
		}()
	}
	wg.Wait()
	got, err := m.GetWebhook(ctx, "t1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.FailureCount)
}

func TestMemoryLedgerNewestFirstAndCascade(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }
	w := seedWebhook(t, m, "t1", model.EventTicketCreated)

	for i := 1; i <= 3; i++ {
		_, err := m.AppendDelivery(ctx, model.NewDeliveryRecord(w.ID, "ev1", model.EventTicketCreated, []byte(`{}`), i, model.Outcome{StatusCode: 500, Error: "HTTP 500"}))
		require.NoError(t, err)
	}
	recs, err := m.ListDeliveries(ctx, w.ID, Page{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{recs[0].Attempt, recs[1].Attempt, recs[2].Attempt})

	recs, err = m.ListDeliveries(ctx, w.ID, Page{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Attempt)

	require.NoError(t, m.Enqueue(ctx, model.DeliveryJob{WebhookID: w.ID, TenantID: "t1", Attempt: 1}))
	require.NoError(t, m.DeleteWebhook(ctx, "t1", w.ID))
	n, err := m.CountDeliveries(ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, m.PendingJobs())

	_, err = m.AppendDelivery(ctx, model.NewDeliveryRecord(w.ID, "ev1", model.EventTicketCreated, []byte(`{}`), 4, model.Outcome{}))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryQueueClaimLease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	require.NoError(t, m.Enqueue(ctx, model.DeliveryJob{ID: "due", NotBefore: now.Add(-time.Second)}))
	require.NoError(t, m.Enqueue(ctx, model.DeliveryJob{ID: "later", NotBefore: now.Add(time.Hour)}))

	jobs, err := m.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "due", jobs[0].ID)

	jobs, err = m.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs, "claimed job must stay hidden during the lease")

	jobs, err = m.ClaimDue(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, m.Complete(ctx, "due"))
	assert.ErrorIs(t, m.Reschedule(ctx, model.DeliveryJob{ID: "due"}), ErrNotFound)
}
