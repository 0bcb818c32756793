package webhooks

import (
	"context"

	"go.uber.org/zap"

	"deskhooks/internal/metrics"
	"deskhooks/internal/model"
	"deskhooks/internal/store"
)

// Breaker isolates endpoints that keep failing. A failure is one exhausted
// event delivery, not one attempt.
type Breaker struct {
	Store     store.WebhookStore
	Threshold int
	Log       *zap.Logger
}

func NewBreaker(s store.WebhookStore, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{Store: s, Threshold: model.DisableThreshold, Log: log}
}

// RecordFailure bumps the counter and reports whether this call switched the webhook off.
func (b *Breaker) RecordFailure(ctx context.Context, webhookID string) (bool, error) {
	w, err := b.Store.IncrementFailureCount(ctx, webhookID, b.Threshold)
	if err != nil {
		return false, err
	}
	tripped := w.AutoDisabled && w.FailureCount == b.Threshold
	if tripped {
		metrics.WebhookAutoDisabled.Inc()
		b.Log.Warn("webhook auto-disabled",
			zap.String("webhook_id", webhookID),
			zap.String("tenant_id", w.TenantID),
			zap.Int("failure_count", w.FailureCount))
	}
	return tripped, nil
}

func (b *Breaker) RecordSuccess(ctx context.Context, webhookID string) error {
	return b.Store.ResetFailureCount(ctx, webhookID)
}
