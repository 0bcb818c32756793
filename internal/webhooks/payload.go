package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"deskhooks/internal/model"
)

// Envelope is the body of every outbound delivery.
type Envelope struct {
	Event     model.EventType `json:"event"`
	Timestamp int64           `json:"timestamp"`
	WebhookID string          `json:"webhook_id"`
	Data      json.RawMessage `json:"data"`
}

// BuildPayload wraps event data for one webhook. Data is carried verbatim.
func BuildPayload(eventType model.EventType, data json.RawMessage, webhookID string, now time.Time) Envelope {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return Envelope{
		Event:     eventType,
		Timestamp: now.Unix(),
		WebhookID: webhookID,
		Data:      data,
	}
}

// Canonicalize renders env in its fixed field order with no insignificant
// whitespace and with '<', '>' and '&' left unescaped. Data is copied as is
// apart from whitespace, so numbers and key order survive exactly as the
// producer wrote them. The same envelope always yields the same bytes.
func Canonicalize(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// marshalData turns producer data into raw JSON once, at emit time.
func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("event data is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("event data is not valid JSON")
		}
		return json.RawMessage(v), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
