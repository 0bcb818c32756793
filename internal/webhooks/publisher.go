package webhooks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"deskhooks/internal/metrics"
	"deskhooks/internal/model"
)

// SubscriberQueue is the part of the store the publisher needs.
type SubscriberQueue interface {
	FindSubscribers(ctx context.Context, tenantID string, e model.EventType) ([]model.Webhook, error)
	Enqueue(ctx context.Context, job model.DeliveryJob) error
}

// Publisher fans an event out to the tenant's subscribed webhooks by queueing
// one delivery job per webhook. It never performs HTTP itself.
type Publisher struct {
	Store SubscriberQueue
	Log   *zap.Logger
	now   func() time.Time
}

func NewPublisher(s SubscriberQueue, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: s, Log: log, now: time.Now}
}

// Emitted describes what Emit queued.
type Emitted struct {
	EventID string `json:"eventId"`
	Queued  int    `json:"queued"`
}

// Emit queues eventType for every active subscriber of tenantID. Only a bad
// event type or unencodable data is reported back; lookup and enqueue failures
// are logged so the producing action is never failed by delivery concerns.
func (p *Publisher) Emit(ctx context.Context, tenantID string, eventType model.EventType, data any) (Emitted, error) {
	if !eventType.Valid() {
		return Emitted{}, invalid("event", "unknown event type %q", eventType)
	}
	raw, err := marshalData(data)
	if err != nil {
		return Emitted{}, invalid("data", "%v", err)
	}
	out := Emitted{EventID: ulid.Make().String()}
	log := p.Log.With(
		zap.String("tenant_id", tenantID),
		zap.String("event_id", out.EventID),
		zap.String("event_type", eventType.String()))

	subs, err := p.Store.FindSubscribers(ctx, tenantID, eventType)
	if err != nil {
		log.Error("find subscribers failed", zap.Error(err))
		return out, nil
	}
	now := p.now().UTC()
	for _, w := range subs {
		job := model.DeliveryJob{
			TenantID:  tenantID,
			WebhookID: w.ID,
			EventID:   out.EventID,
			EventType: eventType,
			Data:      raw,
			Attempt:   1,
			NotBefore: now,
			CreatedAt: now,
		}
		if err := p.Store.Enqueue(ctx, job); err != nil {
			log.Error("enqueue delivery failed", zap.String("webhook_id", w.ID), zap.Error(err))
			continue
		}
		out.Queued++
		metrics.WebhookJobsEnqueued.WithLabelValues(eventType.String()).Inc()
	}
	log.Debug("event emitted", zap.Int("queued", out.Queued))
	return out, nil
}
