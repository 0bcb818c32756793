package store

import (
	"context"
	"errors"
	"time"

	"deskhooks/internal/model"
)

// WebhookStore persists webhook registrations. Secrets only ever pass through it sealed.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error)
	GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error)
	UpdateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error)
	// DeleteWebhook removes the webhook together with its delivery records and queued jobs.
	DeleteWebhook(ctx context.Context, tenantID, id string) error
	// SetActive is the manual toggle. Enabling clears the failure counter and the
	// auto-disabled flag; disabling marks the webhook as admin-disabled.
	SetActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error)
	ReplaceSecret(ctx context.Context, tenantID, id string, sealed []byte) error
	// FindSubscribers returns active webhooks of the tenant subscribed to e.
	FindSubscribers(ctx context.Context, tenantID string, e model.EventType) ([]model.Webhook, error)

	// IncrementFailureCount atomically bumps the counter and disables the webhook
	// once it reaches threshold.
	IncrementFailureCount(ctx context.Context, id string, threshold int) (model.Webhook, error)
	ResetFailureCount(ctx context.Context, id string) error
	TouchTriggered(ctx context.Context, id string, at time.Time) error
}

// Ledger is the append-only delivery audit trail.
type Ledger interface {
	// AppendDelivery returns ErrNotFound, and writes nothing, if the webhook is gone.
	AppendDelivery(ctx context.Context, rec model.DeliveryRecord) (model.DeliveryRecord, error)
	// ListDeliveries returns records newest first.
	ListDeliveries(ctx context.Context, webhookID string, page Page) ([]model.DeliveryRecord, error)
	CountDeliveries(ctx context.Context, webhookID string) (int, error)
}

// Queue holds delivery jobs until their not-before time.
type Queue interface {
	Enqueue(ctx context.Context, job model.DeliveryJob) error
	// ClaimDue returns up to limit jobs due at now and hides them for lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.DeliveryJob, error)
	// Reschedule stores the job's new attempt ordinal and not-before time.
	Reschedule(ctx context.Context, job model.DeliveryJob) error
	Complete(ctx context.Context, id string) error
}

// Store is the persistence surface used by the service.
type Store interface {
	WebhookStore
	Ledger
	Queue
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// Page selects a window of delivery records; Page is 1-based.
type Page struct {
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PerPage }
