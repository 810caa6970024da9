package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

// DefaultCurrency is used when neither the request nor the service names one.
const DefaultCurrency = "ARS"

// AccessTokenSource yields a usable provider access token for an organization.
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context, orgID string) (string, error)
}

// IntentConfig holds the URLs the intent creator embeds in preferences.
type IntentConfig struct {
	PublicBaseURL   string // where the provider delivers notifications
	FrontendBaseURL string // default back URLs
	DefaultCurrency string
}

// IntentInput is a request for a checkout preference for one appointment.
type IntentInput struct {
	OrgID         string           `json:"org_id"`
	AppointmentID string           `json:"appointment_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	BackURLs      *domain.BackURLs `json:"back_urls"`
	PayerEmail    string           `json:"payer_email"`
	Metadata      map[string]any   `json:"metadata"`
}

// IntentResult carries the checkout URLs of a created preference.
type IntentResult struct {
	URL          string `json:"url"`
	PreferenceID string `json:"preference_id"`
	SandboxURL   string `json:"sandbox_url,omitempty"`
}

// IntentCreator creates checkout preferences on the organization's account.
type IntentCreator struct {
	appointments ports.AppointmentStore
	payments     ports.PaymentStore
	tokens       AccessTokenSource
	gateway      ports.PaymentGateway
	cfg          IntentConfig
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// NewIntentCreator creates a new intent creator.
func NewIntentCreator(
	appointments ports.AppointmentStore,
	payments ports.PaymentStore,
	tokens AccessTokenSource,
	gateway ports.PaymentGateway,
	cfg IntentConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IntentCreator {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.FrontendBaseURL = strings.TrimRight(cfg.FrontendBaseURL, "/")
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultCurrency
	}
	return &IntentCreator{
		appointments: appointments,
		payments:     payments,
		tokens:       tokens,
		gateway:      gateway,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateIntent creates a preference for in.AppointmentID and records it as a
// pending payment before returning the checkout URL.
func (c *IntentCreator) CreateIntent(ctx context.Context, in IntentInput) (*IntentResult, error) {
	if in.OrgID == "" || in.AppointmentID == "" || in.Title == "" {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest,
			"org_id, appointment_id and title are required", "VALIDATION_ERROR")
	}
	if !in.Amount.IsPositive() {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest, "amount must be positive", "VALIDATION_ERROR")
	}

	appt, err := c.appointments.GetAppointment(ctx, in.AppointmentID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && appt.OrgID != in.OrgID) {
		return nil, domain.NewServiceError(domain.ErrNotFound, "appointment "+in.AppointmentID, "APPOINTMENT_NOT_FOUND")
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	accessToken, err := c.tokens.GetValidAccessToken(ctx, in.OrgID)
	if err != nil {
		c.metrics.IntentsCreated.WithLabelValues("no_token").Inc()
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = c.cfg.DefaultCurrency
	}
	backURLs := c.defaultBackURLs()
	if in.BackURLs != nil {
		backURLs = *in.BackURLs
	}

	pref, err := c.gateway.CreatePreference(ctx, accessToken, domain.PreferenceRequest{
		IdempotencyKey:    appt.ID,
		ExternalReference: appt.ID,
		Title:             in.Title,
		Description:       in.Description,
		Amount:            in.Amount,
		Currency:          currency,
		PayerEmail:        in.PayerEmail,
		BackURLs:          backURLs,
		NotificationURL:   c.notificationURL(in.OrgID),
		Metadata:          in.Metadata,
	})
	if err != nil {
		c.metrics.IntentsCreated.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	now := c.now().UTC()
	record := &domain.PaymentRecord{
		OrgID:         in.OrgID,
		AppointmentID: appt.ID,
		PreferenceID:  pref.ID,
		Status:        domain.PaymentPending,
		Amount:        in.Amount,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.payments.CreatePendingPayment(ctx, record); err != nil {
		c.metrics.IntentsCreated.WithLabelValues("store_error").Inc()
		c.logger.Error("failed to record pending payment",
			zap.String("preference_id", pref.ID),
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	c.metrics.IntentsCreated.WithLabelValues("ok").Inc()
	c.logger.Info("checkout preference created",
		zap.String("preference_id", pref.ID),
		zap.String("org_id", in.OrgID),
		zap.String("appointment_id", appt.ID),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("currency", currency))

	return &IntentResult{
		URL:          pref.InitPoint,
		PreferenceID: pref.ID,
		SandboxURL:   pref.SandboxInitPoint,
	}, nil
}

func (c *IntentCreator) notificationURL(orgID string) string {
	if c.cfg.PublicBaseURL == "" {
		return ""
	}
	return c.cfg.PublicBaseURL + "/webhooks/mercadopago?org_id=" + url.QueryEscape(orgID)
}

func (c *IntentCreator) defaultBackURLs() domain.BackURLs {
	if c.cfg.FrontendBaseURL == "" {
		return domain.BackURLs{}
	}
	base := c.cfg.FrontendBaseURL + "/booking/payment/"
	return domain.BackURLs{
		Success: base + "success",
		Failure: base + "failure",
		Pending: base + "pending",
	}
}
