package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"deskhooks/internal/auth"
	"deskhooks/internal/model"
	"deskhooks/internal/store"
)

const (
	maxNameLen        = 255
	maxDescriptionLen = 1000
	maxURLLen         = 2048
)

// Service is the management surface for webhooks. Every method is scoped to a tenant.
type Service struct {
	Store   store.Store
	Secrets SecretStore
	Exec    *Executor
	Log     *zap.Logger
	// AllowInsecureURLs permits http:// targets, for local development.
	AllowInsecureURLs bool
}

func NewService(s store.Store, secrets SecretStore, exec *Executor, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: s, Secrets: secrets, Exec: exec, Log: log}
}

// Created is returned once on creation; Secret is never retrievable this way again.
type Created struct {
	Webhook model.Webhook `json:"webhook"`
	Secret  string        `json:"secret"`
}

// DeliveryPage is one page of a webhook's delivery history.
type DeliveryPage struct {
	Records []model.DeliveryRecord `json:"records"`
	Page    int                    `json:"page"`
	PerPage int                    `json:"perPage"`
	Total   int                    `json:"total"`
}

func (s *Service) validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "is required")
	}
	if len(name) > maxNameLen {
		return "", invalid("name", "must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func (s *Service) validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("url", "is required")
	}
	if len(raw) > maxURLLen {
		return "", invalid("url", "must be at most %d characters", maxURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", invalid("url", "must be an absolute URL")
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !s.AllowInsecureURLs {
			return "", invalid("url", "must use https")
		}
	default:
		return "", invalid("url", "must use https")
	}
	if u.User != nil {
		return "", invalid("url", "must not embed credentials")
	}
	return u.String(), nil
}

func validateEvents(in []string) ([]model.EventType, error) {
	if len(in) == 0 {
		return nil, invalid("events", "at least one event type is required")
	}
	out := make([]model.EventType, 0, len(in))
	for _, s := range in {
		e, err := model.ParseEventType(s)
		if err != nil {
			return nil, invalid("events", "unknown event type %q", s)
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func validateDescription(d string) (string, error) {
	d = strings.TrimSpace(d)
	if len(d) > maxDescriptionLen {
		return "", invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	return d, nil
}

func (s *Service) Create(ctx context.Context, tenantID string, in model.WebhookInput) (Created, error) {
	name, err := s.validateName(in.Name)
	if err != nil {
		return Created{}, err
	}
	u, err := s.validateURL(in.URL)
	if err != nil {
		return Created{}, err
	}
	events, err := validateEvents(in.Events)
	if err != nil {
		return Created{}, err
	}
	desc, err := validateDescription(in.Description)
	if err != nil {
		return Created{}, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return Created{}, err
	}
	sealed, err := s.Secrets.Seal(ctx, secret)
	if err != nil {
		return Created{}, fmt.Errorf("seal secret: %w", err)
	}
	w, err := s.Store.CreateWebhook(ctx, model.Webhook{
		TenantID:     tenantID,
		Name:         name,
		URL:          u,
		SealedSecret: sealed,
		Events:       events,
		Format:       model.FormatJSON,
		Description:  desc,
		Active:       true,
	})
	if err != nil {
		return Created{}, fmt.Errorf("create webhook: %w", err)
	}
	s.Log.Info("webhook created", zap.String("tenant_id", tenantID), zap.String("webhook_id", w.ID))
	return Created{Webhook: w, Secret: secret}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	return s.Store.GetWebhook(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	return s.Store.ListWebhooks(ctx, tenantID)
}

// Update applies a partial patch. The secret and activity state are untouched.
func (s *Service) Update(ctx context.Context, tenantID, id string, patch model.WebhookPatch) (model.Webhook, error) {
	w, err := s.Store.GetWebhook(ctx, tenantID, id)
	if err != nil {
		return model.Webhook{}, err
	}
	if patch.Name != nil {
		if w.Name, err = s.validateName(*patch.Name); err != nil {
			return model.Webhook{}, err
		}
	}
	if patch.URL != nil {
		if w.URL, err = s.validateURL(*patch.URL); err != nil {
			return model.Webhook{}, err
		}
	}
	if patch.Events != nil {
		if w.Events, err = validateEvents(*patch.Events); err != nil {
			return model.Webhook{}, err
		}
	}
	if patch.Description != nil {
		if w.Description, err = validateDescription(*patch.Description); err != nil {
			return model.Webhook{}, err
		}
	}
	return s.Store.UpdateWebhook(ctx, w)
}

// Delete removes the webhook, its history and any queued retries.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.Store.DeleteWebhook(ctx, tenantID, id); err != nil {
		return err
	}
	s.Log.Info("webhook deleted", zap.String("tenant_id", tenantID), zap.String("webhook_id", id))
	return nil
}

// ToggleActive flips the active flag. Enabling also clears the failure counter.
func (s *Service) ToggleActive(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	w, err := s.Store.GetWebhook(ctx, tenantID, id)
	if err != nil {
		return model.Webhook{}, err
	}
	return s.SetActive(ctx, tenantID, id, !w.Active)
}

func (s *Service) SetActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error) {
	w, err := s.Store.SetActive(ctx, tenantID, id, active)
	if err != nil {
		return model.Webhook{}, err
	}
	s.Log.Info("webhook toggled", zap.String("tenant_id", tenantID), zap.String("webhook_id", id), zap.Bool("active", w.Active))
	return w, nil
}

// RegenerateSecret replaces the signing secret and returns the new plaintext.
// Deliveries signed after this call use the new secret.
func (s *Service) RegenerateSecret(ctx context.Context, tenantID, id string) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	sealed, err := s.Secrets.Seal(ctx, secret)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	if err := s.Store.ReplaceSecret(ctx, tenantID, id, sealed); err != nil {
		return "", err
	}
	s.Log.Info("webhook secret rotated", zap.String("tenant_id", tenantID), zap.String("webhook_id", id))
	return secret, nil
}

// RevealSecret returns the current plaintext secret to an owner.
func (s *Service) RevealSecret(ctx context.Context, p auth.Principal, id string) (string, error) {
	if !p.IsOwner() {
		return "", ErrForbidden
	}
	w, err := s.Store.GetWebhook(ctx, p.Tenant, id)
	if err != nil {
		return "", err
	}
	secret, err := s.Secrets.Reveal(ctx, w.SealedSecret)
	if err != nil {
		return "", fmt.Errorf("reveal secret: %w", err)
	}
	s.Log.Info("webhook secret revealed", zap.String("tenant_id", p.Tenant), zap.String("webhook_id", id), zap.String("subject", p.Subject))
	return secret, nil
}

func (s *Service) ListDeliveries(ctx context.Context, tenantID, id string, page store.Page) (DeliveryPage, error) {
	if _, err := s.Store.GetWebhook(ctx, tenantID, id); err != nil {
		return DeliveryPage{}, err
	}
	page = page.Normalize()
	recs, err := s.Store.ListDeliveries(ctx, id, page)
	if err != nil {
		return DeliveryPage{}, err
	}
	total, err := s.Store.CountDeliveries(ctx, id)
	if err != nil {
		return DeliveryPage{}, err
	}
	return DeliveryPage{Records: recs, Page: page.Page, PerPage: page.PerPage, Total: total}, nil
}
