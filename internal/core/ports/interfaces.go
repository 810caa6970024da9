// Package ports defines the interfaces (ports) for the payment service.
// These are contracts that adapters must implement.
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// PaymentGateway defines the interface for interacting with Mercado Pago.
type PaymentGateway interface {
	// CreatePreference creates a Checkout Pro preference using the seller's token.
	CreatePreference(ctx context.Context, accessToken string, req domain.PreferenceRequest) (*domain.Preference, error)

	// GetPayment retrieves the authoritative payment object by ID.
	GetPayment(ctx context.Context, accessToken string, paymentID string) (*domain.ProviderPayment, error)
}

// TokenClient talks to the provider's OAuth token endpoint.
type TokenClient interface {
	// ExchangeCode trades an authorization code for the first token pair.
	ExchangeCode(ctx context.Context, code string) (*domain.OAuthToken, error)

	// Refresh performs a grant_type=refresh_token exchange.
	Refresh(ctx context.Context, refreshToken string) (*domain.OAuthToken, error)

	// AuthorizationURL builds the seller consent URL for the given state.
	AuthorizationURL(state string) string
}

// SignatureVerifier authenticates inbound webhook payloads.
type SignatureVerifier interface {
	Verify(signatureHeader string, rawBody []byte, secret string) bool
}

// SecretVault encrypts secrets at rest.
type SecretVault interface {
	Encrypt(plaintext string) (domain.EncryptedSecret, error)
	Decrypt(secret domain.EncryptedSecret) (string, error)
}

// SlotSource supplies candidate booking times for a salon service on a day.
type SlotSource interface {
	Slots(ctx context.Context, salonID, serviceID string, day time.Time) ([]domain.Slot, error)
}

// ConfirmationNotifier tells the booking core that an appointment was paid.
type ConfirmationNotifier interface {
	NotifyAppointmentConfirmed(ctx context.Context, appt *domain.Appointment, record *domain.PaymentRecord) error
}

// Transactor runs fn inside a single storage transaction carried by ctx.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CredentialStore persists provider credentials. Get methods return
// domain.ErrNotFound when no row exists.
type CredentialStore interface {
	GetCredential(ctx context.Context, orgID string) (*domain.ProviderCredential, error)
	GetCredentialByCollector(ctx context.Context, collectorID string) (*domain.ProviderCredential, error)
	UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error
	DeleteCredential(ctx context.Context, orgID string) error
}

// LinkStore persists booking links.
type LinkStore interface {
	CreateLink(ctx context.Context, link *domain.PaymentLink) error
	GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.PaymentLink, error)
}

// DirectoryStore reads the organization/salon/service tables owned by the booking app.
type DirectoryStore interface {
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)
	GetSalon(ctx context.Context, salonID string) (*domain.Salon, error)
	GetService(ctx context.Context, serviceID string) (*domain.SalonService, error)
}

// AppointmentStore persists appointments created by the gateway.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appt *domain.Appointment) error
	GetAppointment(ctx context.Context, id string) (*domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	// ConfirmAppointment moves a non-confirmed appointment to confirmed and
	// reports whether this call performed the transition.
	ConfirmAppointment(ctx context.Context, id string, collected decimal.Decimal, method string) (bool, error)
	// ListActiveStarts returns start times of non-cancelled appointments of a salon in [from, to).
	ListActiveStarts(ctx context.Context, salonID string, from, to time.Time) ([]time.Time, error)
	// ListOrphanedPending returns pending appointments created before cutoff
	// that have no payment record.
	ListOrphanedPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Appointment, error)
}

// PaymentStore persists mp_payments rows.
type PaymentStore interface {
	// CreatePendingPayment inserts a pending record keyed by preference id;
	// an existing row for the same preference is left untouched.
	CreatePendingPayment(ctx context.Context, rec *domain.PaymentRecord) error
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.PaymentRecord, error)
	GetPaymentByPreference(ctx context.Context, preferenceID string) (*domain.PaymentRecord, error)
	// UpsertProviderPayment stores rec keyed by its ProviderPaymentID, claiming
	// the appointment's pending preference row when the payment id is new.
	UpsertProviderPayment(ctx context.Context, rec *domain.PaymentRecord) error
}

// LedgerStore persists completed payments in the salon ledger.
type LedgerStore interface {
	// InsertLedgerEntry reports false when an entry for the provider payment already exists.
	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) (bool, error)
}

// WebhookEventStore is the inbound notification log and retry outbox.
type WebhookEventStore interface {
	InsertWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error)
	FinishWebhookEvent(ctx context.Context, id string, status domain.WebhookEventStatus, lastErr string) error
	ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, limit int) ([]domain.WebhookEvent, error)
}

// Store is the full persistence surface implemented by each storage adapter.
type Store interface {
	Transactor
	CredentialStore
	LinkStore
	DirectoryStore
	AppointmentStore
	PaymentStore
	LedgerStore
	WebhookEventStore
	Close() error
}
