package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const paymentColumns = `id, org_id, appointment_id, provider_payment_id, preference_id, status, status_detail,
	amount, currency, payment_method, raw_payload, created_at, updated_at`

// CreatePendingPayment inserts the pending record of a freshly created preference.
func (s *Store) CreatePendingPayment(ctx context.Context, rec *domain.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `INSERT INTO mp_payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(preference_id) DO NOTHING`
	_, err := s.writer(ctx).ExecContext(ctx, query,
		rec.ID, rec.OrgID, rec.AppointmentID, nullString(rec.ProviderPaymentID), nullString(rec.PreferenceID),
		string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
		rec.RawProviderPayload, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create pending payment: %w", err)
	}
	return nil
}

// GetPaymentByProviderID reads the record of a provider payment id.
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.PaymentRecord, error) {
	return s.getPayment(ctx, `provider_payment_id = ?`, providerPaymentID)
}

// GetPaymentByPreference reads the record created for a preference.
func (s *Store) GetPaymentByPreference(ctx context.Context, preferenceID string) (*domain.PaymentRecord, error) {
	return s.getPayment(ctx, `preference_id = ?`, preferenceID)
}

func (s *Store) getPayment(ctx context.Context, where string, arg string) (*domain.PaymentRecord, error) {
	if arg == "" {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + paymentColumns + ` FROM mp_payments WHERE ` + where
	rec, err := scanPayment(s.reader(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("get payment record: %w", err)
	}
	return rec, nil
}

// UpsertProviderPayment stores rec keyed by its provider payment id. A new
// payment id first claims the appointment's pending preference row, if any.
func (s *Store) UpsertProviderPayment(ctx context.Context, rec *domain.PaymentRecord) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		now := formatTime(time.Now())
		w := s.writer(ctx)

		res, err := w.ExecContext(ctx, `UPDATE mp_payments
			SET status = ?, status_detail = ?, amount = ?, currency = ?, payment_method = ?, raw_payload = ?, updated_at = ?
			WHERE provider_payment_id = ?`,
			string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
			rec.RawProviderPayload, now, rec.ProviderPaymentID)
		if err != nil {
			return fmt.Errorf("update payment %q: %w", rec.ProviderPaymentID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		res, err = w.ExecContext(ctx, `UPDATE mp_payments
			SET provider_payment_id = ?, status = ?, status_detail = ?, amount = ?, currency = ?,
				payment_method = ?, raw_payload = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM mp_payments
				WHERE appointment_id = ? AND org_id = ? AND provider_payment_id IS NULL
				ORDER BY created_at DESC LIMIT 1)`,
			rec.ProviderPaymentID, string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency,
			rec.PaymentMethod, rec.RawProviderPayload, now, rec.AppointmentID, rec.OrgID)
		if err != nil {
			return fmt.Errorf("claim pending payment for appointment %q: %w", rec.AppointmentID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		_, err = w.ExecContext(ctx, `INSERT INTO mp_payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.OrgID, rec.AppointmentID, rec.ProviderPaymentID, nullString(rec.PreferenceID),
			string(rec.Status), rec.StatusDetail, rec.Amount.String(), rec.Currency, rec.PaymentMethod,
			rec.RawProviderPayload, now, now)
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
	const query = `INSERT INTO payments
		(id, org_id, appointment_id, provider_payment_id, amount, currency, method, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'completed', ?)
		ON CONFLICT(provider_payment_id) DO NOTHING`
	res, err := s.writer(ctx).ExecContext(ctx, query,
		entry.ID, entry.OrgID, entry.AppointmentID, entry.ProviderPaymentID,
		entry.Amount.String(), entry.Currency, entry.Method, formatTime(entry.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return n == 1, nil
}

func scanPayment(row *sql.Row) (*domain.PaymentRecord, error) {
	var (
		rec                      domain.PaymentRecord
		providerID, preferenceID sql.NullString
		status, amount           string
		createdAt, updatedAt     string
	)
	err := row.Scan(&rec.ID, &rec.OrgID, &rec.AppointmentID, &providerID, &preferenceID, &status,
		&rec.StatusDetail, &amount, &rec.Currency, &rec.PaymentMethod, &rec.RawProviderPayload, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ProviderPaymentID = providerID.String
	rec.PreferenceID = preferenceID.String
	rec.Status, _ = domain.ParsePaymentStatus(status)
	if rec.Amount, err = parseDecimal(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}
