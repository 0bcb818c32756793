package store

import (
	"context"
	"time"

	"deskhooks/internal/model"
)

// WithQueue routes queue operations to q and everything else to base.
func WithQueue(base Store, q Queue) Store {
	return &composite{Store: base, q: q}
}

type composite struct {
	Store
	q Queue
}

func (c *composite) Enqueue(ctx context.Context, job model.DeliveryJob) error {
	return c.q.Enqueue(ctx, job)
}

func (c *composite) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
	return c.q.ClaimDue(ctx, now, limit, lease)
}

func (c *composite) Reschedule(ctx context.Context, job model.DeliveryJob) error {
	return c.q.Reschedule(ctx, job)
}

func (c *composite) Complete(ctx context.Context, id string) error {
	return c.q.Complete(ctx, id)
}

func (c *composite) Ping(ctx context.Context) error {
	if err := c.Store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := c.q.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
