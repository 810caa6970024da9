package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const appointmentColumns = `id, org_id, salon_id, service_id, client_name, client_email, client_phone,
	starts_at, status, total_collected, payment_method, created_at, updated_at`

// CreateAppointment inserts a new appointment row.
func (s *Store) CreateAppointment(ctx context.Context, appt *domain.Appointment) error {
	var collected any
	if !appt.TotalCollected.IsZero() {
		collected = appt.TotalCollected.String()
	}

	query := `INSERT INTO appointments (` + appointmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.writer(ctx).ExecContext(ctx, query,
		appt.ID, appt.OrgID, appt.SalonID, appt.ServiceID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		formatTime(appt.StartsAt), string(appt.Status), collected, appt.PaymentMethod,
		formatTime(appt.CreatedAt), formatTime(appt.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// GetAppointment reads an appointment by id.
func (s *Store) GetAppointment(ctx context.Context, id string) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
	rows, err := s.reader(ctx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %q: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get appointment %q: %w", id, err)
		}
		return nil, domain.ErrNotFound
	}
	return scanAppointment(rows)
}

// DeleteAppointment removes an appointment row.
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	res, err := s.writer(ctx).ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (s *Store) ConfirmAppointment(ctx context.Context, id string, collected decimal.Decimal, method string) (bool, error) {
	const query = `UPDATE appointments
		SET status = ?, total_collected = ?, payment_method = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := s.writer(ctx).ExecContext(ctx, query,
		string(domain.AppointmentConfirmed), collected.String(), method, formatTime(time.Now()),
		id, string(domain.AppointmentPending))
	if err != nil {
		return false, fmt.Errorf("confirm appointment %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm appointment %q: %w", id, err)
	}
	return n == 1, nil
}

// ListActiveStarts returns start times of non-cancelled appointments of a salon in [from, to).
func (s *Store) ListActiveStarts(ctx context.Context, salonID string, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT starts_at FROM appointments
		WHERE salon_id = ? AND status <> ? AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at`
	rows, err := s.reader(ctx).QueryContext(ctx, query,
		salonID, string(domain.AppointmentCancelled), formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("list appointment starts: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan starts_at: %w", err)
		}
		t, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("parse starts_at: %w", err)
		}
		starts = append(starts, t)
	}
	return starts, rows.Err()
}

// ListOrphanedPending returns pending appointments created before cutoff
// that never got a payment record.
func (s *Store) ListOrphanedPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments a
		WHERE a.status = ? AND a.created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM mp_payments p WHERE p.appointment_id = a.id)
		ORDER BY a.created_at
		LIMIT ?`
	rows, err := s.reader(ctx).QueryContext(ctx, query, string(domain.AppointmentPending), formatTime(cutoff), limit)
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

func scanAppointment(rows *sql.Rows) (*domain.Appointment, error) {
	var (
		appt                          domain.Appointment
		status                        string
		collected                     sql.NullString
		startsAt, createdAt, updateAt string
	)
	err := rows.Scan(&appt.ID, &appt.OrgID, &appt.SalonID, &appt.ServiceID, &appt.ClientName, &appt.ClientEmail,
		&appt.ClientPhone, &startsAt, &status, &collected, &appt.PaymentMethod, &createdAt, &updateAt)
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}

	appt.Status = domain.AppointmentStatus(status)
	if collected.Valid {
		if appt.TotalCollected, err = parseDecimal(collected.String); err != nil {
			return nil, fmt.Errorf("parse total_collected: %w", err)
		}
	}
	if appt.StartsAt, err = parseTime(startsAt); err != nil {
		return nil, fmt.Errorf("parse starts_at: %w", err)
	}
	if appt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if appt.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &appt, nil
}
