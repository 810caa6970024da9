package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

const paymentTopic = "payment"

// ReconcilerStore is the persistence surface the reconciler writes through.
type ReconcilerStore interface {
	ports.Transactor
	ports.CredentialStore
	ports.AppointmentStore
	ports.PaymentStore
	ports.LedgerStore
}

// flexibleID accepts identifiers sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type notificationBody struct {
	Type   string     `json:"type"`
	Topic  string     `json:"topic"`
	Action string     `json:"action"`
	UserID flexibleID `json:"user_id"`
	Data   struct {
		ID     flexibleID `json:"id"`
		Status string     `json:"status"`
	} `json:"data"`
}

// NewWebhookEvent builds the outbox row for an inbound notification. Fields
// missing from the body fall back to the legacy query-string form
// (?topic=payment&id=123 or ?type=payment&data.id=123).
func NewWebhookEvent(rawBody []byte, query url.Values, signatureValid bool, receivedAt time.Time) *domain.WebhookEvent {
	var body notificationBody
	if len(bytes.TrimSpace(rawBody)) > 0 {
		// Malformed bodies are still recorded; processing drops them.
		_ = json.Unmarshal(rawBody, &body)
	}

	topic := firstNonEmpty(body.Type, body.Topic, query.Get("type"), query.Get("topic"))
	resourceID := firstNonEmpty(string(body.Data.ID), query.Get("data.id"), query.Get("id"))

	return &domain.WebhookEvent{
		ID:             uuid.NewString(),
		Topic:          strings.ToLower(topic),
		Action:         body.Action,
		ResourceID:     resourceID,
		UserID:         string(body.UserID),
		OrgHint:        query.Get("org_id"),
		ReportedStatus: body.Data.Status,
		RawBody:        rawBody,
		SignatureValid: signatureValid,
		Status:         domain.WebhookReceived,
		ReceivedAt:     receivedAt.UTC(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Reconciler applies provider payment notifications to local state.
type Reconciler struct {
	store    ReconcilerStore
	tokens   AccessTokenSource
	gateway  ports.PaymentGateway
	notifier ports.ConfirmationNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a new reconciler. notifier may be nil.
func NewReconciler(
	store ReconcilerStore,
	tokens AccessTokenSource,
	gateway ports.PaymentGateway,
	notifier ports.ConfirmationNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:    store,
		tokens:   tokens,
		gateway:  gateway,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Process reconciles one notification and reports the outcome to record on
// the event. A non-nil error accompanies the dropped and failed outcomes.
func (r *Reconciler) Process(ctx context.Context, ev *domain.WebhookEvent) (domain.WebhookEventStatus, error) {
	log := r.logger.With(zap.String("event_id", ev.ID), zap.String("payment_id", ev.ResourceID))

	if ev.Topic != paymentTopic {
		log.Debug("ignoring webhook topic", zap.String("topic", ev.Topic))
		return domain.WebhookSkipped, nil
	}
	if ev.ResourceID == "" {
		return domain.WebhookDropped, domain.NewServiceError(domain.ErrUnresolvedCorrelation,
			"notification has no data.id", "MISSING_RESOURCE")
	}

	existing, err := r.store.GetPaymentByProviderID(ctx, ev.ResourceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.WebhookFailed, fmt.Errorf("load payment record: %w", err)
	}
	if existing != nil && ev.ReportedStatus != "" && existing.Status.Terminal() &&
		domain.MapProviderStatus(ev.ReportedStatus) == existing.Status {
		log.Debug("duplicate notification for terminal payment", zap.String("status", string(existing.Status)))
		return domain.WebhookSkipped, nil
	}

	orgID, err := r.resolveOrg(ctx, ev, existing)
	if err != nil {
		return domain.WebhookFailed, err
	}
	if orgID == "" {
		log.Warn("webhook could not be tied to an organization", zap.String("user_id", ev.UserID))
		return domain.WebhookDropped, domain.NewServiceError(domain.ErrUnresolvedCorrelation,
			"no organization for notification", "UNRESOLVED_ORG")
	}
	log = log.With(zap.String("org_id", orgID))

	accessToken, err := r.tokens.GetValidAccessToken(ctx, orgID)
	if err != nil {
		log.Warn("no usable access token for webhook", zap.Error(err))
		return domain.WebhookFailed, err
	}

	payment, err := r.gateway.GetPayment(ctx, accessToken, ev.ResourceID)
	if err != nil {
		return domain.WebhookFailed, err
	}

	appt, err := r.correlate(ctx, orgID, payment, existing)
	if errors.Is(err, domain.ErrUnresolvedCorrelation) {
		log.Warn("payment does not reference an appointment of the organization",
			zap.String("external_reference", payment.ExternalReference))
		return domain.WebhookDropped, err
	}
	if err != nil {
		return domain.WebhookFailed, err
	}

	status := domain.MapProviderStatus(payment.Status)
	if status == domain.PaymentPending && !isPendingVocabulary(payment.Status) {
		log.Warn("unrecognized provider payment status", zap.String("provider_status", payment.Status))
	}
	if existing != nil && existing.Status == status {
		log.Debug("payment status unchanged", zap.String("status", string(status)))
		return domain.WebhookSkipped, nil
	}

	record := &domain.PaymentRecord{
		OrgID:              orgID,
		AppointmentID:      appt.ID,
		ProviderPaymentID:  payment.ID,
		Status:             status,
		StatusDetail:       payment.StatusDetail,
		Amount:             payment.Amount,
		Currency:           payment.Currency,
		PaymentMethod:      payment.PaymentMethod,
		RawProviderPayload: payment.Raw,
	}

	var confirmed, ledgered bool
	err = r.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := r.store.UpsertProviderPayment(ctx, record); err != nil {
			return err
		}
		if status != domain.PaymentApproved {
			return nil
		}

		var err error
		confirmed, err = r.store.ConfirmAppointment(ctx, appt.ID, payment.Amount, payment.PaymentMethod)
		if err != nil {
			return err
		}
		ledgered, err = r.store.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			OrgID:             orgID,
			AppointmentID:     appt.ID,
			ProviderPaymentID: payment.ID,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
			Method:            payment.PaymentMethod,
			CreatedAt:         r.now().UTC(),
		})
		return err
	})
	if err != nil {
		log.Error("failed to apply payment update", zap.Error(err))
		return domain.WebhookFailed, fmt.Errorf("apply payment %s: %w", payment.ID, err)
	}

	if status.Reversal() && appt.Status == domain.AppointmentConfirmed {
		r.metrics.ReversalsUnhandled.Inc()
		log.Warn("payment reversed on a confirmed appointment, manual follow-up required",
			zap.String("appointment_id", appt.ID),
			zap.String("status", string(status)))
	}

	log.Info("payment reconciled",
		zap.String("appointment_id", appt.ID),
		zap.String("status", string(status)),
		zap.Bool("appointment_confirmed", confirmed),
		zap.Bool("ledger_entry_created", ledgered))

	if confirmed {
		r.notifyConfirmed(ctx, appt, record, log)
	}
	return domain.WebhookProcessed, nil
}

// resolveOrg returns "" when no source names an organization.
func (r *Reconciler) resolveOrg(ctx context.Context, ev *domain.WebhookEvent, existing *domain.PaymentRecord) (string, error) {
	if existing != nil {
		return existing.OrgID, nil
	}
	if ev.UserID != "" {
		cred, err := r.store.GetCredentialByCollector(ctx, ev.UserID)
		switch {
		case err == nil:
			return cred.OrgID, nil
		case !errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("resolve collector %s: %w", ev.UserID, err)
		}
	}
	return ev.OrgHint, nil
}

// correlate checks that the fetched payment points at an appointment of orgID.
func (r *Reconciler) correlate(
	ctx context.Context,
	orgID string,
	payment *domain.ProviderPayment,
	existing *domain.PaymentRecord,
) (*domain.Appointment, error) {
	if payment.ExternalReference == "" {
		return nil, domain.NewServiceError(domain.ErrUnresolvedCorrelation,
			"payment has no external_reference", "UNRESOLVED_APPOINTMENT")
	}

	appt, err := r.store.GetAppointment(ctx, payment.ExternalReference)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewServiceError(domain.ErrUnresolvedCorrelation,
			"unknown appointment "+payment.ExternalReference, "UNRESOLVED_APPOINTMENT")
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.OrgID != orgID || (existing != nil && existing.AppointmentID != appt.ID) {
		return nil, domain.NewServiceError(domain.ErrUnresolvedCorrelation,
			"appointment "+appt.ID+" belongs elsewhere", "UNRESOLVED_APPOINTMENT")
	}
	return appt, nil
}

func (r *Reconciler) notifyConfirmed(ctx context.Context, appt *domain.Appointment, record *domain.PaymentRecord, log *zap.Logger) {
	if r.notifier == nil {
		return
	}
	confirmedAppt := *appt
	confirmedAppt.Status = domain.AppointmentConfirmed
	confirmedAppt.TotalCollected = record.Amount
	confirmedAppt.PaymentMethod = record.PaymentMethod

	if err := r.notifier.NotifyAppointmentConfirmed(ctx, &confirmedAppt, record); err != nil {
		log.Warn("booking core confirmation callback failed",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
	}
}

func isPendingVocabulary(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "in_process", "in_mediation", "authorized":
		return true
	}
	return false
}
