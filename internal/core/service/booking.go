package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

const depositAmountKey = "deposit_amount"

// LinkValidator resolves a raw booking link token.
type LinkValidator interface {
	Validate(ctx context.Context, token, salonID string) (*domain.PaymentLink, error)
}

// IntentPlacer creates checkout preferences.
type IntentPlacer interface {
	CreateIntent(ctx context.Context, in IntentInput) (*IntentResult, error)
}

// BookingInput is an anonymous booking request made through a link.
type BookingInput struct {
	Token       string           `json:"token"`
	SalonID     string           `json:"salon_id"`
	ServiceID   string           `json:"service_id"`
	StartsAt    time.Time        `json:"starts_at"`
	ClientName  string           `json:"client_name"`
	ClientEmail string           `json:"client_email"`
	ClientPhone string           `json:"client_phone"`
	BackURLs    *domain.BackURLs `json:"back_urls"`
}

// BookingResult is what the public booking page redirects with.
type BookingResult struct {
	AppointmentID string `json:"appointment_id"`
	URL           string `json:"url"`
	PreferenceID  string `json:"preference_id"`
	SandboxURL    string `json:"sandbox_url,omitempty"`
}

// BookingGateway turns a link-authorized booking into a pending appointment
// plus a checkout preference.
type BookingGateway struct {
	links        LinkValidator
	directory    ports.DirectoryStore
	appointments ports.AppointmentStore
	slots        ports.SlotSource
	intents      IntentPlacer
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// NewBookingGateway creates a new booking gateway.
func NewBookingGateway(
	links LinkValidator,
	directory ports.DirectoryStore,
	appointments ports.AppointmentStore,
	slots ports.SlotSource,
	intents IntentPlacer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *BookingGateway {
	return &BookingGateway{
		links:        links,
		directory:    directory,
		appointments: appointments,
		slots:        slots,
		intents:      intents,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// Book validates the link and slot, creates a pending appointment and starts
// checkout for it. If checkout cannot start the appointment is deleted again.
func (g *BookingGateway) Book(ctx context.Context, in BookingInput) (*BookingResult, error) {
	if in.ServiceID == "" || in.StartsAt.IsZero() || strings.TrimSpace(in.ClientName) == "" {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest,
			"service_id, starts_at and client_name are required", "VALIDATION_ERROR")
	}

	link, err := g.links.Validate(ctx, in.Token, in.SalonID)
	if err != nil {
		return nil, err
	}

	svc, err := g.directory.GetService(ctx, in.ServiceID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && svc.SalonID != link.SalonID) {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest,
			"service is not offered by this salon", "SERVICE_NOT_IN_SALON")
	}
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	if err := g.checkSlot(ctx, link.SalonID, svc.ID, in.StartsAt); err != nil {
		return nil, err
	}

	now := g.now().UTC()
	appt := &domain.Appointment{
		ID:          uuid.NewString(),
		OrgID:       link.OrgID,
		SalonID:     link.SalonID,
		ServiceID:   svc.ID,
		ClientName:  strings.TrimSpace(in.ClientName),
		ClientEmail: strings.TrimSpace(in.ClientEmail),
		ClientPhone: strings.TrimSpace(in.ClientPhone),
		StartsAt:    in.StartsAt.UTC(),
		Status:      domain.AppointmentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.appointments.CreateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	amount, ok := depositAmount(link.Metadata)
	if !ok {
		amount = svc.Price
	}

	intent, err := g.intents.CreateIntent(ctx, IntentInput{
		OrgID:         link.OrgID,
		AppointmentID: appt.ID,
		Title:         svc.Name,
		Description:   link.Title,
		Amount:        amount,
		Currency:      svc.Currency,
		BackURLs:      in.BackURLs,
		PayerEmail:    appt.ClientEmail,
		Metadata:      map[string]any{"appointment_id": appt.ID, "salon_id": appt.SalonID},
	})
	if err != nil {
		g.compensate(ctx, appt.ID, err)
		return nil, err
	}

	g.logger.Info("public booking created",
		zap.String("appointment_id", appt.ID),
		zap.String("org_id", appt.OrgID),
		zap.String("salon_id", appt.SalonID),
		zap.String("preference_id", intent.PreferenceID))

	return &BookingResult{
		AppointmentID: appt.ID,
		URL:           intent.URL,
		PreferenceID:  intent.PreferenceID,
		SandboxURL:    intent.SandboxURL,
	}, nil
}

func (g *BookingGateway) checkSlot(ctx context.Context, salonID, serviceID string, startsAt time.Time) error {
	slots, err := g.slots.Slots(ctx, salonID, serviceID, startsAt)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}
	for _, s := range slots {
		if s.Time.Equal(startsAt) {
			if s.Available {
				return nil
			}
			break
		}
	}
	return domain.NewServiceError(domain.ErrSlotUnavailable, startsAt.UTC().Format(time.RFC3339), "SLOT_UNAVAILABLE")
}

// compensate removes the appointment created for a checkout that never started.
// It runs detached from ctx so a cancelled request still cleans up.
func (g *BookingGateway) compensate(ctx context.Context, appointmentID string, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := g.appointments.DeleteAppointment(cctx, appointmentID); err != nil {
		g.metrics.Compensations.WithLabelValues("failed").Inc()
		g.logger.Error("failed to delete appointment after checkout failure, left as orphan",
			zap.String("appointment_id", appointmentID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	g.metrics.Compensations.WithLabelValues("deleted").Inc()
	g.logger.Warn("appointment deleted after checkout failure",
		zap.String("appointment_id", appointmentID),
		zap.NamedError("cause", cause))
}

// depositAmount reads a positive deposit_amount from link metadata.
func depositAmount(metadata map[string]any) (decimal.Decimal, bool) {
	raw, ok := metadata[depositAmountKey]
	if !ok || raw == nil {
		return decimal.Decimal{}, false
	}

	var (
		amount decimal.Decimal
		err    error
	)
	switch v := raw.(type) {
	case float64:
		amount = decimal.NewFromFloat(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case json.Number:
		amount, err = decimal.NewFromString(v.String())
	case string:
		amount, err = decimal.NewFromString(strings.TrimSpace(v))
	case decimal.Decimal:
		amount = v
	default:
		return decimal.Decimal{}, false
	}
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, false
	}
	return amount.Round(2), true
}
