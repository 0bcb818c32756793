package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"deskhooks/internal/metrics"
	"deskhooks/internal/model"
	"deskhooks/internal/store"
)

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	// Lease hides a claimed job from other workers. It must outlast one attempt.
	Lease time.Duration
	// RatePerSecond caps outbound requests per webhook; 0 disables the limit.
	RatePerSecond float64
	RateBurst     int
	Retry         RetryPolicy
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: time.Second,
		BatchSize:    50,
		Concurrency:  8,
		Lease:        2 * time.Minute,
		Retry:        DefaultRetryPolicy(),
	}
}

// Worker drains due delivery jobs. Each job is one attempt; a failed attempt is
// written back with the next attempt ordinal and a not-before time, so attempts
// for one event and webhook never overlap.
type Worker struct {
	Store   store.Store
	Secrets SecretStore
	Exec    *Executor
	Breaker *Breaker
	Log     *zap.Logger
	cfg     WorkerConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewWorker(s store.Store, secrets SecretStore, exec *Executor, log *zap.Logger, cfg WorkerConfig) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	cfg.Retry = cfg.Retry.normalized()
	return &Worker{
		Store:    s,
		Secrets:  secrets,
		Exec:     exec,
		Breaker:  NewBreaker(s, log),
		Log:      log,
		cfg:      cfg,
		limiters: map[string]*rate.Limiter{},
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			if _, err := w.processOnce(ctx); err != nil && ctx.Err() == nil {
				w.Log.Error("claim due jobs failed", zap.Error(err))
			}
		}
	}
}

// processOnce claims one batch and waits for it to finish.
func (w *Worker) processOnce(ctx context.Context) (int, error) {
	jobs, err := w.Store.ClaimDue(ctx, w.now(), w.cfg.BatchSize, w.cfg.Lease)
	if err != nil || len(jobs) == 0 {
		return 0, err
	}
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			w.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

func (w *Worker) limiter(webhookID string) *rate.Limiter {
	if w.cfg.RatePerSecond <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[webhookID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(w.cfg.RatePerSecond), w.cfg.RateBurst)
		w.limiters[webhookID] = l
	}
	return l
}

func (w *Worker) forget(webhookID string) {
	w.mu.Lock()
	delete(w.limiters, webhookID)
	w.mu.Unlock()
}

func (w *Worker) complete(ctx context.Context, job model.DeliveryJob, log *zap.Logger) {
	if err := w.Store.Complete(ctx, job.ID); err != nil {
		log.Error("complete job failed", zap.Error(err))
	}
}

// process runs one attempt to completion even if ctx is cancelled meanwhile:
// an attempt cut short by shutdown would be recorded as the endpoint's failure.
// The executor timeout bounds how long shutdown waits.
func (w *Worker) process(ctx context.Context, job model.DeliveryJob) {
	ctx = context.WithoutCancel(ctx)
	log := w.Log.With(
		zap.String("webhook_id", job.WebhookID),
		zap.String("tenant_id", job.TenantID),
		zap.String("event_id", job.EventID),
		zap.String("event_type", job.EventType.String()),
		zap.Int("attempt", job.Attempt))

	hook, err := w.Store.GetWebhook(ctx, job.TenantID, job.WebhookID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("webhook gone, dropping job")
		w.forget(job.WebhookID)
		w.complete(ctx, job, log)
		return
	}
	if err != nil {
		log.Error("load webhook failed", zap.Error(err))
		return
	}
	if !hook.Active {
		log.Info("webhook disabled, dropping job", zap.Bool("auto_disabled", hook.AutoDisabled))
		w.forget(hook.ID)
		w.complete(ctx, job, log)
		return
	}

	now := w.now()
	if l := w.limiter(hook.ID); l != nil {
		r := l.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			job.NotBefore = now.Add(d)
			if err := w.Store.Reschedule(ctx, job); err != nil && !errors.Is(err, store.ErrNotFound) {
				log.Error("requeue throttled job failed", zap.Error(err))
			}
			metrics.WebhookDeliveries.WithLabelValues(job.EventType.String(), "throttled").Inc()
			return
		}
	}

	env := BuildPayload(job.EventType, job.Data, hook.ID, now)
	body, outcome := w.attempt(ctx, hook, env, job.Attempt)

	if err := w.Store.TouchTriggered(ctx, hook.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("touch last triggered failed", zap.Error(err))
	}
	dec := w.cfg.Retry.Decide(outcome, job.Attempt, w.now())
	rec := model.NewDeliveryRecord(hook.ID, job.EventID, job.EventType, body, job.Attempt, outcome)
	rec.Final = dec.State.Terminal()
	if _, err := w.Store.AppendDelivery(ctx, rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("webhook deleted during attempt, dropping job")
			w.forget(hook.ID)
			w.complete(ctx, job, log)
			return
		}
		log.Error("append delivery record failed", zap.Error(err))
	}

	result := string(dec.State)
	metrics.WebhookDeliveries.WithLabelValues(job.EventType.String(), result).Inc()
	metrics.WebhookLatency.WithLabelValues(job.EventType.String(), result).Observe(float64(outcome.Duration.Milliseconds()))
	log = log.With(zap.Int("status_code", outcome.StatusCode), zap.Duration("duration", outcome.Duration))

	switch dec.State {
	case StateDelivered:
		log.Debug("webhook delivered")
		if err := w.Breaker.RecordSuccess(ctx, hook.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("reset failure count failed", zap.Error(err))
		}
		w.complete(ctx, job, log)
	case StateRetryScheduled:
		log.Info("webhook attempt failed, retry scheduled", zap.String("error", outcome.Error), zap.Time("next_attempt_at", dec.NextAttemptAt))
		job.Attempt++
		job.NotBefore = dec.NextAttemptAt
		if err := w.Store.Reschedule(ctx, job); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("reschedule job failed", zap.Error(err))
		}
	case StateExhausted:
		log.Warn("webhook delivery exhausted", zap.String("error", outcome.Error))
		tripped, err := w.Breaker.RecordFailure(ctx, hook.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("increment failure count failed", zap.Error(err))
		}
		if tripped {
			w.forget(hook.ID)
		}
		w.complete(ctx, job, log)
	}
}

// attempt builds, signs and sends env. Local failures become failed outcomes so
// they follow the normal retry path.
func (w *Worker) attempt(ctx context.Context, hook model.Webhook, env Envelope, attempt int) ([]byte, model.Outcome) {
	body, err := Canonicalize(env)
	if err != nil {
		return []byte(`{}`), model.Outcome{Error: err.Error()}
	}
	secret, err := w.Secrets.Reveal(ctx, hook.SealedSecret)
	if err != nil {
		return body, model.Outcome{Error: "signing secret unavailable"}
	}
	return body, w.Exec.Execute(ctx, Request{
		URL:       hook.URL,
		EventType: env.Event,
		Timestamp: env.Timestamp,
		Attempt:   attempt,
		Body:      body,
		Signature: Sign(body, secret),
	})
}
