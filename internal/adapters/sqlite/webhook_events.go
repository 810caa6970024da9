package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const webhookColumns = `id, topic, action, resource_id, user_id, org_hint, reported_status, raw_body,
	signature_valid, status, attempts, last_error, received_at, processed_at`

// InsertWebhookEvent appends an inbound notification to the outbox.
func (s *Store) InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.writer(ctx).ExecContext(ctx, query,
		ev.ID, ev.Topic, ev.Action, ev.ResourceID, ev.UserID, ev.OrgHint, ev.ReportedStatus, ev.RawBody,
		boolInt(ev.SignatureValid), string(ev.Status), ev.Attempts, ev.LastError,
		formatTime(ev.ReceivedAt), formatNullTime(ev.ProcessedAt))
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetWebhookEvent reads one outbox row.
func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE id = ?`
	rows, err := s.reader(ctx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get webhook event %q: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get webhook event %q: %w", id, err)
		}
		return nil, domain.ErrNotFound
	}
	return scanWebhookEvent(rows)
}

// FinishWebhookEvent records the outcome of one processing attempt.
func (s *Store) FinishWebhookEvent(ctx context.Context, id string, status domain.WebhookEventStatus, lastErr string) error {
	const query = `UPDATE webhook_events
		SET status = ?, last_error = ?, attempts = attempts + 1, processed_at = ?
		WHERE id = ?`
	res, err := s.writer(ctx).ExecContext(ctx, query, string(status), lastErr, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish webhook event %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRetryableWebhookEvents returns received or failed events older than receivedBefore, oldest first.
func (s *Store) ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE status IN (?, ?) AND received_at < ?
		ORDER BY received_at
		LIMIT ?`
	rows, err := s.reader(ctx).QueryContext(ctx, query,
		string(domain.WebhookReceived), string(domain.WebhookFailed), formatTime(receivedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable webhook events: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanWebhookEvent(rows *sql.Rows) (*domain.WebhookEvent, error) {
	var (
		ev          domain.WebhookEvent
		sigValid    int
		status      string
		receivedAt  string
		processedAt sql.NullString
	)
	err := rows.Scan(&ev.ID, &ev.Topic, &ev.Action, &ev.ResourceID, &ev.UserID, &ev.OrgHint, &ev.ReportedStatus,
		&ev.RawBody, &sigValid, &status, &ev.Attempts, &ev.LastError, &receivedAt, &processedAt)
	if err != nil {
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}

	ev.SignatureValid = sigValid == 1
	ev.Status = domain.WebhookEventStatus(status)
	if ev.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("parse received_at: %w", err)
	}
	if ev.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, fmt.Errorf("parse processed_at: %w", err)
	}
	return &ev, nil
}
