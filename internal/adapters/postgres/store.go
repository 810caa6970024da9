package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
)

// Compile-time interface satisfaction check.
var _ ports.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of every persistence port.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connected pool. The store takes ownership of the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) q(ctx context.Context) querier {
	return getQuerier(ctx, s.pool)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseDecimal(s *string) (decimal.Decimal, error) {
	if s == nil || *s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*s)
}

// Credentials

const credentialColumns = `org_id, collector_id, access_token_ciphertext, access_token_nonce,
	refresh_token_ciphertext, refresh_token_nonce, scope, public_key, live_mode, expires_at, updated_at`

// GetCredential returns the Mercado Pago connection of an organization.
func (s *Store) GetCredential(ctx context.Context, orgID string) (*domain.ProviderCredential, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+credentialColumns+` FROM mp_credentials WHERE org_id = $1`, orgID)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("get credential for org %q: %w", orgID, err)
	}
	return cred, nil
}

// GetCredentialByCollector returns the credential whose seller account is collectorID.
func (s *Store) GetCredentialByCollector(ctx context.Context, collectorID string) (*domain.ProviderCredential, error) {
	if collectorID == "" {
		return nil, domain.ErrNotFound
	}
	row := s.q(ctx).QueryRow(ctx, `SELECT `+credentialColumns+` FROM mp_credentials
		WHERE collector_id = $1 ORDER BY updated_at DESC LIMIT 1`, collectorID)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("get credential for collector %q: %w", collectorID, err)
	}
	return cred, nil
}

// UpsertCredential inserts or replaces the single credential row of an organization.
func (s *Store) UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error {
	var refreshCipher, refreshNonce []byte
	if cred.RefreshToken != nil {
		refreshCipher, refreshNonce = cred.RefreshToken.Ciphertext, cred.RefreshToken.Nonce
	}

	const query = `INSERT INTO mp_credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (org_id) DO UPDATE SET
			collector_id = EXCLUDED.collector_id,
			access_token_ciphertext = EXCLUDED.access_token_ciphertext,
			access_token_nonce = EXCLUDED.access_token_nonce,
			refresh_token_ciphertext = EXCLUDED.refresh_token_ciphertext,
			refresh_token_nonce = EXCLUDED.refresh_token_nonce,
			scope = EXCLUDED.scope,
			public_key = EXCLUDED.public_key,
			live_mode = EXCLUDED.live_mode,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.q(ctx).Exec(ctx, query,
		cred.OrgID, cred.CollectorID, cred.AccessToken.Ciphertext, cred.AccessToken.Nonce,
		refreshCipher, refreshNonce, cred.Scope, cred.PublicKey, cred.LiveMode, cred.ExpiresAt, cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert credential for org %q: %w", cred.OrgID, err)
	}
	return nil
}

// DeleteCredential removes the credential of an organization.
func (s *Store) DeleteCredential(ctx context.Context, orgID string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM mp_credentials WHERE org_id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("delete credential for org %q: %w", orgID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (*domain.ProviderCredential, error) {
	var (
		cred                        domain.ProviderCredential
		refreshCipher, refreshNonce []byte
	)
	err := row.Scan(&cred.OrgID, &cred.CollectorID, &cred.AccessToken.Ciphertext, &cred.AccessToken.Nonce,
		&refreshCipher, &refreshNonce, &cred.Scope, &cred.PublicKey, &cred.LiveMode, &cred.ExpiresAt, &cred.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if len(refreshCipher) > 0 {
		cred.RefreshToken = &domain.EncryptedSecret{Ciphertext: refreshCipher, Nonce: refreshNonce}
	}
	return &cred, nil
}

// Links

// CreateLink persists a booking link. Only the token hash is stored.
func (s *Store) CreateLink(ctx context.Context, link *domain.PaymentLink) error {
	metadata := link.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.q(ctx).Exec(ctx, `INSERT INTO payment_links
		(id, org_id, salon_id, token_hash, title, description, metadata, expires_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::jsonb, $8, $9, $10)`,
		link.ID, link.OrgID, link.SalonID, link.TokenHash, link.Title, link.Description,
		string(raw), link.ExpiresAt, link.Active, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment link: %w", err)
	}
	return nil
}

// GetLinkByTokenHash looks a link up by the SHA-256 of its token.
func (s *Store) GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.PaymentLink, error) {
	var (
		link     domain.PaymentLink
		metadata string
	)
	err := s.q(ctx).QueryRow(ctx, `SELECT id, org_id, salon_id, token_hash, title, description,
			metadata::text, expires_at, active, created_at
		FROM payment_links WHERE token_hash = $1`, tokenHash).
		Scan(&link.ID, &link.OrgID, &link.SalonID, &link.TokenHash, &link.Title, &link.Description,
			&metadata, &link.ExpiresAt, &link.Active, &link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get payment link: %w", notFound(err))
	}

	link.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(metadata), &link.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &link, nil
}

// Directory

// GetOrganization reads an organization row.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.q(ctx).QueryRow(ctx, `SELECT id, name, slug FROM organizations WHERE id = $1`, orgID).
		Scan(&org.ID, &org.Name, &org.Slug)
	if err != nil {
		return nil, fmt.Errorf("get organization %q: %w", orgID, notFound(err))
	}
	return &org, nil
}

// GetSalon reads a salon row.
func (s *Store) GetSalon(ctx context.Context, salonID string) (*domain.Salon, error) {
	var salon domain.Salon
	err := s.q(ctx).QueryRow(ctx, `SELECT id, org_id, name, address, phone FROM salons WHERE id = $1`, salonID).
		Scan(&salon.ID, &salon.OrgID, &salon.Name, &salon.Address, &salon.Phone)
	if err != nil {
		return nil, fmt.Errorf("get salon %q: %w", salonID, notFound(err))
	}
	return &salon, nil
}

// GetService reads a salon service row.
func (s *Store) GetService(ctx context.Context, serviceID string) (*domain.SalonService, error) {
	var (
		svc   domain.SalonService
		price *string
	)
	err := s.q(ctx).QueryRow(ctx, `SELECT id, org_id, salon_id, name, price::text, currency, duration_minutes
		FROM salon_services WHERE id = $1`, serviceID).
		Scan(&svc.ID, &svc.OrgID, &svc.SalonID, &svc.Name, &price, &svc.Currency, &svc.DurationMinutes)
	if err != nil {
		return nil, fmt.Errorf("get service %q: %w", serviceID, notFound(err))
	}
	if svc.Price, err = parseDecimal(price); err != nil {
		return nil, fmt.Errorf("parse service price: %w", err)
	}
	return &svc, nil
}

// Appointments

const appointmentColumns = `id, org_id, salon_id, service_id, client_name, client_email, client_phone,
	starts_at, status, total_collected::text, payment_method, created_at, updated_at`

// CreateAppointment inserts a new appointment row.
func (s *Store) CreateAppointment(ctx context.Context, appt *domain.Appointment) error {
	var collected *string
	if !appt.TotalCollected.IsZero() {
		collected = nullString(appt.TotalCollected.String())
	}
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO appointments
		(id, org_id, salon_id, service_id, client_name, client_email, client_phone,
		 starts_at, status, total_collected, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::text::numeric, $11, $12, $13)`,
		appt.ID, appt.OrgID, appt.SalonID, appt.ServiceID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.StartsAt, string(appt.Status), collected, appt.PaymentMethod, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// GetAppointment reads an appointment by id.
func (s *Store) GetAppointment(ctx context.Context, id string) (*domain.Appointment, error) {
	appt, err := scanAppointment(s.q(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment %q: %w", id, notFound(err))
	}
	return appt, nil
}

// DeleteAppointment removes an appointment row.
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (s *Store) ConfirmAppointment(ctx context.Context, id string, collected decimal.Decimal, method string) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE appointments
		SET status = $1, total_collected = $2::text::numeric, payment_method = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		string(domain.AppointmentConfirmed), collected.String(), method, id, string(domain.AppointmentPending))
	if err != nil {
		return false, fmt.Errorf("confirm appointment %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveStarts returns start times of non-cancelled appointments of a salon in [from, to).
func (s *Store) ListActiveStarts(ctx context.Context, salonID string, from, to time.Time) ([]time.Time, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT starts_at FROM appointments
		WHERE salon_id = $1 AND status <> $2 AND starts_at >= $3 AND starts_at < $4
		ORDER BY starts_at`, salonID, string(domain.AppointmentCancelled), from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointment starts: %w", err)
	}
	starts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("list appointment starts: %w", err)
	}
	return starts, nil
}

// ListOrphanedPending returns pending appointments created before cutoff
// that never got a payment record.
func (s *Store) ListOrphanedPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Appointment, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT `+appointmentColumns+` FROM appointments a
		WHERE a.status = $1 AND a.created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM mp_payments p WHERE p.appointment_id = a.id)
		ORDER BY a.created_at
		LIMIT $3`, string(domain.AppointmentPending), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned appointments: %w", err)
	}
	defer rows.Close()

	var out []domain.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var (
		appt      domain.Appointment
		status    string
		collected *string
	)
	err := row.Scan(&appt.ID, &appt.OrgID, &appt.SalonID, &appt.ServiceID, &appt.ClientName, &appt.ClientEmail,
		&appt.ClientPhone, &appt.StartsAt, &status, &collected, &appt.PaymentMethod, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	appt.Status = domain.AppointmentStatus(status)
	if appt.TotalCollected, err = parseDecimal(collected); err != nil {
		return nil, fmt.Errorf("parse total_collected: %w", err)
	}
	return &appt, nil
}

// Payments

const paymentColumns = `id, org_id, appointment_id, provider_payment_id, preference_id, status, status_detail,
	amount::text, currency, payment_method, raw_payload, created_at, updated_at`

// CreatePendingPayment inserts the pending record of a freshly created preference.
func (s *Store) CreatePendingPayment(ctx context.Context, rec *domain.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO mp_payments
		(id, org_id, appointment_id, provider_payment_id, preference_id, status, status_detail,
		 amount, currency, payment_method, raw_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10, $11, $12, $13)
		ON CONFLICT (preference_id) DO NOTHING`,
		rec.ID, rec.OrgID, rec.AppointmentID, nullString(rec.ProviderPaymentID), nullString(rec.PreferenceID),
		string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
		rec.RawProviderPayload, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create pending payment: %w", err)
	}
	return nil
}

// GetPaymentByProviderID reads the record of a provider payment id.
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.PaymentRecord, error) {
	return s.getPayment(ctx, "provider_payment_id", providerPaymentID)
}

// GetPaymentByPreference reads the record created for a preference.
func (s *Store) GetPaymentByPreference(ctx context.Context, preferenceID string) (*domain.PaymentRecord, error) {
	return s.getPayment(ctx, "preference_id", preferenceID)
}

func (s *Store) getPayment(ctx context.Context, column, value string) (*domain.PaymentRecord, error) {
	if value == "" {
		return nil, domain.ErrNotFound
	}
	row := s.q(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM mp_payments WHERE `+column+` = $1`, value)

	var (
		rec                      domain.PaymentRecord
		providerID, preferenceID *string
		status                   string
		amount                   *string
	)
	err := row.Scan(&rec.ID, &rec.OrgID, &rec.AppointmentID, &providerID, &preferenceID, &status,
		&rec.StatusDetail, &amount, &rec.Currency, &rec.PaymentMethod, &rec.RawProviderPayload, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get payment record: %w", notFound(err))
	}
	rec.ProviderPaymentID = derefString(providerID)
	rec.PreferenceID = derefString(preferenceID)
	rec.Status, _ = domain.ParsePaymentStatus(status)
	if rec.Amount, err = parseDecimal(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &rec, nil
}

// UpsertProviderPayment stores rec keyed by its provider payment id. A new
// payment id first claims the appointment's pending preference row, if any.
func (s *Store) UpsertProviderPayment(ctx context.Context, rec *domain.PaymentRecord) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		q := s.q(ctx)

		tag, err := q.Exec(ctx, `UPDATE mp_payments
			SET status = $1, status_detail = $2, amount = $3::text::numeric, currency = $4,
				payment_method = $5, raw_payload = $6, updated_at = NOW()
			WHERE provider_payment_id = $7`,
			string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
			rec.RawProviderPayload, rec.ProviderPaymentID)
		if err != nil {
			return fmt.Errorf("update payment %q: %w", rec.ProviderPaymentID, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		tag, err = q.Exec(ctx, `UPDATE mp_payments
			SET provider_payment_id = $1, status = $2, status_detail = $3, amount = $4::text::numeric,
				currency = $5, payment_method = $6, raw_payload = $7, updated_at = NOW()
			WHERE id = (
				SELECT id FROM mp_payments
				WHERE appointment_id = $8 AND org_id = $9 AND provider_payment_id IS NULL
				ORDER BY created_at DESC LIMIT 1
				FOR UPDATE)`,
			rec.ProviderPaymentID, string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency,
			rec.PaymentMethod, rec.RawProviderPayload, rec.AppointmentID, rec.OrgID)
		if err != nil {
			return fmt.Errorf("claim pending payment for appointment %q: %w", rec.AppointmentID, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		_, err = q.Exec(ctx, `INSERT INTO mp_payments
			(id, org_id, appointment_id, provider_payment_id, preference_id, status, status_detail,
			 amount, currency, payment_method, raw_payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10, $11)`,
			rec.ID, rec.OrgID, rec.AppointmentID, rec.ProviderPaymentID, nullString(rec.PreferenceID),
			string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
			rec.RawProviderPayload)
		if err != nil {
			return fmt.Errorf("insert payment %q: %w", rec.ProviderPaymentID, err)
		}
		return nil
	})
}

// InsertLedgerEntry records a completed payment once per provider payment id.
func (s *Store) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	tag, err := s.q(ctx).Exec(ctx, `INSERT INTO payments
		(id, org_id, appointment_id, provider_payment_id, amount, currency, method, status, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, 'completed', $8)
		ON CONFLICT (provider_payment_id) DO NOTHING`,
		entry.ID, entry.OrgID, entry.AppointmentID, entry.ProviderPaymentID,
		entry.Amount.String(), entry.Currency, entry.Method, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Webhook events

const webhookColumns = `id, topic, action, resource_id, user_id, org_hint, reported_status, raw_body,
	signature_valid, status, attempts, last_error, received_at, processed_at`

// InsertWebhookEvent appends an inbound notification to the outbox.
func (s *Store) InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO webhook_events (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.Topic, ev.Action, ev.ResourceID, ev.UserID, ev.OrgHint, ev.ReportedStatus, ev.RawBody,
		ev.SignatureValid, string(ev.Status), ev.Attempts, ev.LastError, ev.ReceivedAt, ev.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetWebhookEvent reads one outbox row.
func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	ev, err := scanWebhookEvent(s.q(ctx).QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get webhook event %q: %w", id, notFound(err))
	}
	return ev, nil
}

// FinishWebhookEvent records the outcome of one processing attempt.
func (s *Store) FinishWebhookEvent(ctx context.Context, id string, status domain.WebhookEventStatus, lastErr string) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE webhook_events
		SET status = $1, last_error = $2, attempts = attempts + 1, processed_at = NOW()
		WHERE id = $3`, string(status), lastErr, id)
	if err != nil {
		return fmt.Errorf("finish webhook event %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRetryableWebhookEvents returns received or failed events older than receivedBefore, oldest first.
func (s *Store) ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT `+webhookColumns+` FROM webhook_events
		WHERE status IN ($1, $2) AND received_at < $3
		ORDER BY received_at
		LIMIT $4`, string(domain.WebhookReceived), string(domain.WebhookFailed), receivedBefore, limit)
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

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		ev     domain.WebhookEvent
		status string
	)
	err := row.Scan(&ev.ID, &ev.Topic, &ev.Action, &ev.ResourceID, &ev.UserID, &ev.OrgHint, &ev.ReportedStatus,
		&ev.RawBody, &ev.SignatureValid, &status, &ev.Attempts, &ev.LastError, &ev.ReceivedAt, &ev.ProcessedAt)
	if err != nil {
		return nil, err
	}
	ev.Status = domain.WebhookEventStatus(status)
	return &ev, nil
}
