package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskhooks/internal/model"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	q := NewRedisQueueFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisQueueClaimAndLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, model.DeliveryJob{ID: "a", WebhookID: "wh1", EventType: model.EventTicketCreated,
		Data: json.RawMessage(`{"ticket_id":"1"}`), Attempt: 1, NotBefore: now.Add(-time.Second)}))
	require.NoError(t, q.Enqueue(ctx, model.DeliveryJob{ID: "b", WebhookID: "wh1", Attempt: 1, NotBefore: now.Add(time.Hour)}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	jobs, err := q.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, model.EventTicketCreated, jobs[0].EventType)
	assert.JSONEq(t, `{"ticket_id":"1"}`, string(jobs[0].Data))

	jobs, err = q.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = q.ClaimDue(ctx, now.Add(61*time.Second), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRedisQueueRescheduleAndComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)
	now := time.Now()
	job := model.DeliveryJob{ID: "a", WebhookID: "wh1", Attempt: 1, NotBefore: now}
	require.NoError(t, q.Enqueue(ctx, job))

	job.Attempt = 2
	job.NotBefore = now.Add(30 * time.Second)
	require.NoError(t, q.Reschedule(ctx, job))

	jobs, err := q.ClaimDue(ctx, now.Add(10*time.Second), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = q.ClaimDue(ctx, now.Add(31*time.Second), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Attempt)

	require.NoError(t, q.Complete(ctx, "a"))
	assert.ErrorIs(t, q.Reschedule(ctx, job), ErrNotFound)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithQueueRoutesJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)
	mem := NewMemory()
	s := WithQueue(mem, q)

	require.NoError(t, s.Enqueue(ctx, model.DeliveryJob{ID: "a", NotBefore: time.Now()}))
	assert.Zero(t, mem.PendingJobs())
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, s.Ping(ctx))
}
