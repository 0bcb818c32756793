package model

import (
	"encoding/json"
	"slices"
	"time"
)

// DisableThreshold is the number of consecutive exhausted deliveries after
// which a webhook is switched off by the system.
const DisableThreshold = 10

// FormatJSON is the only payload format produced.
const FormatJSON = "json"

// Webhook is a tenant-registered endpoint plus its subscription and signing secret.
// SealedSecret holds the at-rest form only.
type Webhook struct {
	ID              string      `json:"id"`
	TenantID        string      `json:"tenantId"`
	Name            string      `json:"name"`
	URL             string      `json:"url"`
	SealedSecret    []byte      `json:"-"`
	Events          []EventType `json:"events"`
	Format          string      `json:"format"`
	Description     string      `json:"description,omitempty"`
	Active          bool        `json:"active"`
	FailureCount    int         `json:"failureCount"`
	AutoDisabled    bool        `json:"autoDisabled"`
	LastTriggeredAt *time.Time  `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Subscribes reports whether the webhook opted into e.
func (w Webhook) Subscribes(e EventType) bool {
	return slices.Contains(w.Events, e)
}

// ShouldAutoDisable is true once the failure counter reached the threshold.
func (w Webhook) ShouldAutoDisable() bool {
	return ShouldAutoDisable(w.FailureCount)
}

func ShouldAutoDisable(failureCount int) bool {
	return failureCount >= DisableThreshold
}

// WebhookInput carries the admin-supplied fields of a new webhook.
type WebhookInput struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description string   `json:"description"`
}

// WebhookPatch is a partial update; nil fields are left unchanged.
type WebhookPatch struct {
	Name        *string   `json:"name,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Events      *[]string `json:"events,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// DeliveryRecord is the immutable audit entry for one delivery attempt.
type DeliveryRecord struct {
	ID         string          `json:"id"`
	WebhookID  string          `json:"webhookId"`
	EventID    string          `json:"eventId"`
	EventType  EventType       `json:"eventType"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	Success    bool            `json:"success"`
	// Final marks the last attempt of an event-delivery: it was delivered or
	// retries are exhausted. A failed record with Final unset has a retry pending.
	Final      bool            `json:"final"`
	StatusCode *int            `json:"statusCode"`
	Error      *string         `json:"error"`
	Duration   time.Duration   `json:"durationNs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Outcome is the classified result of one HTTP attempt. StatusCode is 0 when
// no response was received.
type Outcome struct {
	Success    bool          `json:"success"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

// NewDeliveryRecord converts an outcome into its ledger shape.
func NewDeliveryRecord(webhookID, eventID string, eventType EventType, payload []byte, attempt int, o Outcome) DeliveryRecord {
	rec := DeliveryRecord{
		WebhookID: webhookID,
		EventID:   eventID,
		EventType: eventType,
		Payload:   json.RawMessage(payload),
		Attempt:   attempt,
		Success:   o.Success,
		Duration:  o.Duration,
	}
	if o.StatusCode != 0 {
		code := o.StatusCode
		rec.StatusCode = &code
	}
	if o.Error != "" {
		msg := o.Error
		rec.Error = &msg
	}
	return rec
}

// DeliveryJob is a queued delivery attempt. It becomes visible to workers at NotBefore.
type DeliveryJob struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	WebhookID string          `json:"webhookId"`
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Attempt   int             `json:"attempt"`
	NotBefore time.Time       `json:"notBefore"`
	CreatedAt time.Time       `json:"createdAt"`
}
