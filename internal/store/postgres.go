package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"deskhooks/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an already opened handle.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in lexical order. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const webhookColumns = `id::text, tenant_id, name, url, secret_sealed, events, format, description, active, failure_count, auto_disabled, last_triggered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (model.Webhook, error) {
	var w model.Webhook
	var events []byte
	var last sql.NullTime
	err := row.Scan(&w.ID, &w.TenantID, &w.Name, &w.URL, &w.SealedSecret, &events, &w.Format, &w.Description,
		&w.Active, &w.FailureCount, &w.AutoDisabled, &last, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w, ErrNotFound
		}
		return w, err
	}
	if err := json.Unmarshal(events, &w.Events); err != nil {
		return w, fmt.Errorf("decode events of webhook %s: %w", w.ID, err)
	}
	if last.Valid {
		t := last.Time
		w.LastTriggeredAt = &t
	}
	return w, nil
}

func scanWebhooks(rows *sql.Rows) ([]model.Webhook, error) {
	defer rows.Close()
	out := []model.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func eventsJSON(events []model.EventType) (string, error) {
	if events == nil {
		events = []model.EventType{}
	}
	b, err := json.Marshal(events)
	return string(b), err
}

func (p *Postgres) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	ev, err := eventsJSON(w.Events)
	if err != nil {
		return model.Webhook{}, err
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhooks (id, tenant_id, name, url, secret_sealed, events, format, description, active)
        VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9) RETURNING `+webhookColumns,
		w.ID, w.TenantID, w.Name, w.URL, w.SealedSecret, ev, w.Format, w.Description, w.Active)
	return scanWebhook(row)
}

func (p *Postgres) GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanWebhook(row)
}

func (p *Postgres) ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id=$1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	return scanWebhooks(rows)
}

func (p *Postgres) UpdateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	ev, err := eventsJSON(w.Events)
	if err != nil {
		return model.Webhook{}, err
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks SET name=$3, url=$4, events=$5::jsonb, description=$6, updated_at=now()
        WHERE tenant_id=$1 AND id=$2 RETURNING `+webhookColumns,
		w.TenantID, w.ID, w.Name, w.URL, ev, w.Description)
	return scanWebhook(row)
}

// DeleteWebhook relies on ON DELETE CASCADE for webhook_deliveries and webhook_jobs.
func (p *Postgres) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) SetActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks SET active=$3, auto_disabled=false,
        failure_count = CASE WHEN $3 THEN 0 ELSE failure_count END, updated_at=now()
        WHERE tenant_id=$1 AND id=$2 RETURNING `+webhookColumns, tenantID, id, active)
	return scanWebhook(row)
}

func (p *Postgres) ReplaceSecret(ctx context.Context, tenantID, id string, sealed []byte) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhooks SET secret_sealed=$3, updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id, sealed)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) FindSubscribers(ctx context.Context, tenantID string, e model.EventType) ([]model.Webhook, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id=$1 AND active AND events @> $2::jsonb`,
		tenantID, fmt.Sprintf("[%q]", string(e)))
	if err != nil {
		return nil, err
	}
	return scanWebhooks(rows)
}

// IncrementFailureCount is a single UPDATE so concurrent failures never lose an increment.
// SET expressions see the pre-update row.
func (p *Postgres) IncrementFailureCount(ctx context.Context, id string, threshold int) (model.Webhook, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks SET failure_count = failure_count + 1,
        auto_disabled = CASE WHEN failure_count + 1 >= $2 AND active THEN true ELSE auto_disabled END,
        active = CASE WHEN failure_count + 1 >= $2 THEN false ELSE active END,
        updated_at = now()
        WHERE id=$1 RETURNING `+webhookColumns, id, threshold)
	return scanWebhook(row)
}

func (p *Postgres) ResetFailureCount(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhooks SET failure_count=0, updated_at=now() WHERE id=$1 AND failure_count <> 0`, id)
	return err
}

func (p *Postgres) TouchTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhooks SET last_triggered_at=$2 WHERE id=$1`, id, at.UTC())
	return err
}

// Ledger

// AppendDelivery inserts only while the parent webhook exists, so a delivery that
// finishes after deletion leaves no trace.
func (p *Postgres) AppendDelivery(ctx context.Context, rec model.DeliveryRecord) (model.DeliveryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, attempt, success, final, status_code, error, duration_ms, created_at)
        SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12 WHERE EXISTS (SELECT 1 FROM webhooks WHERE id=$2)`,
		rec.ID, rec.WebhookID, rec.EventID, string(rec.EventType), []byte(rec.Payload), rec.Attempt, rec.Success, rec.Final,
		nullInt(rec.StatusCode), nullString(rec.Error), rec.Duration.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return model.DeliveryRecord{}, err
	}
	if err := expectOneRow(res); err != nil {
		return model.DeliveryRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) ListDeliveries(ctx context.Context, webhookID string, page Page) ([]model.DeliveryRecord, error) {
	page = page.Normalize()
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, webhook_id::text, event_id, event_type, payload, attempt, success, final, status_code, error, duration_ms, created_at
        FROM webhook_deliveries WHERE webhook_id=$1 ORDER BY created_at DESC, attempt DESC LIMIT $2 OFFSET $3`,
		webhookID, page.PerPage, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryRecord{}
	for rows.Next() {
		var rec model.DeliveryRecord
		var et string
		var payload []byte
		var code sql.NullInt64
		var msg sql.NullString
		var ms int64
		if err := rows.Scan(&rec.ID, &rec.WebhookID, &rec.EventID, &et, &payload, &rec.Attempt, &rec.Success, &rec.Final, &code, &msg, &ms, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.EventType = model.EventType(et)
		rec.Payload = payload
		rec.Duration = time.Duration(ms) * time.Millisecond
		if code.Valid {
			c := int(code.Int64)
			rec.StatusCode = &c
		}
		if msg.Valid {
			s := msg.String
			rec.Error = &s
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) CountDeliveries(ctx context.Context, webhookID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM webhook_deliveries WHERE webhook_id=$1`, webhookID).Scan(&n)
	return n, err
}

// Queue

func (p *Postgres) Enqueue(ctx context.Context, job model.DeliveryJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_jobs (id, tenant_id, webhook_id, event_id, event_type, data, attempt, not_before)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		job.ID, job.TenantID, job.WebhookID, job.EventID, string(job.EventType), []byte(job.Data), job.Attempt, job.NotBefore.UTC())
	return err
}

// ClaimDue pushes the claimed rows' not_before forward by lease. SKIP LOCKED keeps
// concurrent workers from claiming the same row; a crashed worker's jobs reappear
// once the lease runs out.
func (p *Postgres) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
	rows, err := p.db.QueryContext(ctx, `UPDATE webhook_jobs SET not_before=$2
        WHERE id IN (SELECT id FROM webhook_jobs WHERE not_before <= $1 ORDER BY not_before LIMIT $3 FOR UPDATE SKIP LOCKED)
        RETURNING id::text, tenant_id, webhook_id::text, event_id, event_type, data, attempt, created_at`,
		now.UTC(), now.Add(lease).UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryJob{}
	for rows.Next() {
		var j model.DeliveryJob
		var et string
		var data []byte
		if err := rows.Scan(&j.ID, &j.TenantID, &j.WebhookID, &j.EventID, &et, &data, &j.Attempt, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.EventType = model.EventType(et)
		j.Data = data
		j.NotBefore = now.Add(lease)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) Reschedule(ctx context.Context, job model.DeliveryJob) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_jobs SET attempt=$2, not_before=$3 WHERE id=$1`, job.ID, job.Attempt, job.NotBefore.UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (p *Postgres) Complete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_jobs WHERE id=$1`, id)
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
