package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
)

// OrphanSweeper finds pending appointments whose checkout never got a payment record.
type OrphanSweeper struct {
	appointments ports.AppointmentStore
	logger       *zap.Logger
	now          func() time.Time
}

// NewOrphanSweeper creates a new orphan sweeper.
func NewOrphanSweeper(appointments ports.AppointmentStore, logger *zap.Logger) *OrphanSweeper {
	return &OrphanSweeper{appointments: appointments, logger: logger, now: time.Now}
}

// Find lists orphans created more than minAge ago.
func (s *OrphanSweeper) Find(ctx context.Context, minAge time.Duration, limit int) ([]domain.Appointment, error) {
	return s.appointments.ListOrphanedPending(ctx, s.now().Add(-minAge), limit)
}

// Delete removes the given orphans and returns how many were deleted.
func (s *OrphanSweeper) Delete(ctx context.Context, orphans []domain.Appointment) (int, error) {
	deleted := 0
	for _, appt := range orphans {
		err := s.appointments.DeleteAppointment(ctx, appt.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("delete orphan %s: %w", appt.ID, err)
		}
		deleted++
		s.logger.Info("orphaned appointment deleted",
			zap.String("appointment_id", appt.ID),
			zap.String("org_id", appt.OrgID),
			zap.Time("created_at", appt.CreatedAt))
	}
	return deleted, nil
}
