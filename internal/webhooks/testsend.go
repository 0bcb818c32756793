package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deskhooks/internal/model"
)

// SampleTicketNumber identifies the synthetic ticket in test deliveries.
const SampleTicketNumber = "TEST-0001"

var sampleCreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SampleEventData is the fixed body of a test delivery.
func SampleEventData() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"ticket": map[string]any{
			"id":            "00000000-0000-0000-0000-000000000001",
			"ticket_number": SampleTicketNumber,
			"subject":       "Test webhook delivery",
			"status":        "open",
			"priority":      "normal",
			"requester":     map[string]any{"name": "Test Customer", "email": "customer@example.com"},
			"created_at":    sampleCreatedAt.Format(time.RFC3339),
		},
		"test": true,
	})
	return b
}

// SendTest delivers the sample ticket.created event to the webhook once and
// returns the outcome. Nothing is queued, retried or recorded, and the failure
// counter is not touched. Disabled webhooks can still be tested.
func (s *Service) SendTest(ctx context.Context, tenantID, id string) (model.Outcome, error) {
	w, err := s.Store.GetWebhook(ctx, tenantID, id)
	if err != nil {
		return model.Outcome{}, err
	}
	secret, err := s.Secrets.Reveal(ctx, w.SealedSecret)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("reveal secret: %w", err)
	}
	env := BuildPayload(model.EventTicketCreated, SampleEventData(), w.ID, time.Now())
	body, err := Canonicalize(env)
	if err != nil {
		return model.Outcome{}, err
	}
	out := s.Exec.Execute(ctx, Request{
		URL:       w.URL,
		EventType: env.Event,
		Timestamp: env.Timestamp,
		Attempt:   1,
		Body:      body,
		Signature: Sign(body, secret),
	})
	s.Log.Info("test delivery sent",
		zap.String("tenant_id", tenantID),
		zap.String("webhook_id", w.ID),
		zap.Bool("success", out.Success),
		zap.Int("status_code", out.StatusCode))
	return out, nil
}
