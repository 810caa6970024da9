// Package domain contains the core business entities for the payment service.
// This is the innermost layer - no dependencies on adapters or transport.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EncryptedSecret is an AES-GCM sealed value with the nonce used to seal it.
// It is never logged or returned to clients.
type EncryptedSecret struct {
	Ciphertext []byte
	Nonce      []byte
}

// ProviderCredential is the Mercado Pago OAuth connection of one organization.
type ProviderCredential struct {
	OrgID        string
	CollectorID  string // Mercado Pago user_id of the connected seller
	AccessToken  EncryptedSecret
	RefreshToken *EncryptedSecret // nil when the provider did not issue one
	Scope        string
	PublicKey    string
	LiveMode     bool
	ExpiresAt    *time.Time // nil when the provider did not report expires_in
	UpdatedAt    time.Time
}

// PaymentLink is an anonymous booking link scoped to one salon.
// Only the SHA-256 of the raw token is ever stored.
type PaymentLink struct {
	ID          string
	OrgID       string
	SalonID     string
	TokenHash   string
	Title       string
	Description string
	Metadata    map[string]any
	ExpiresAt   time.Time
	Active      bool
	CreatedAt   time.Time
}

// PaymentRecord is the local mirror of a provider payment (mp_payments).
// Before the provider assigns a payment id, PreferenceID is the correlation key.
type PaymentRecord struct {
	ID                 string
	OrgID              string
	AppointmentID      string
	ProviderPaymentID  string
	PreferenceID       string
	Status             PaymentStatus
	StatusDetail       string
	Amount             decimal.Decimal
	Currency           string
	PaymentMethod      string
	RawProviderPayload []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AppointmentStatus is the lifecycle state of an appointment as far as payments are concerned.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is the booking row created by the public gateway.
type Appointment struct {
	ID             string
	OrgID          string
	SalonID        string
	ServiceID      string
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	StartsAt       time.Time
	Status         AppointmentStatus
	TotalCollected decimal.Decimal
	PaymentMethod  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry is a completed payment in the salon's payment ledger.
type LedgerEntry struct {
	ID                string
	OrgID             string
	AppointmentID     string
	ProviderPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Method            string
	CreatedAt         time.Time
}

// Organization is the tenant that owns salons and the provider credential.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Salon is a physical location of an organization.
type Salon struct {
	ID      string `json:"id"`
	OrgID   string `json:"org_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// SalonService is a bookable service offered by a salon.
type SalonService struct {
	ID              string
	OrgID           string
	SalonID         string
	Name            string
	Price           decimal.Decimal
	Currency        string
	DurationMinutes int
}

// Slot is a candidate booking time supplied by the availability source.
type Slot struct {
	Time      time.Time `json:"time"`
	Available bool      `json:"available"`
}

// BackURLs are the checkout redirect targets.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// PreferenceRequest is what the intent creator asks the provider to create.
type PreferenceRequest struct {
	IdempotencyKey    string
	ExternalReference string
	Title             string
	Description       string
	Amount            decimal.Decimal
	Currency          string
	PayerEmail        string
	BackURLs          BackURLs
	NotificationURL   string
	Metadata          map[string]any
}

// Preference is a created Checkout Pro preference.
type Preference struct {
	ID               string
	InitPoint        string
	SandboxInitPoint string
}

// ProviderPayment is the authoritative payment object fetched from the provider.
type ProviderPayment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	PaymentMethod     string
	PaymentType       string
	PayerEmail        string
	CollectorID       string
	DateApproved      *time.Time
	Raw               []byte
}

// OAuthToken is a token endpoint response.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	UserID       string
	PublicKey    string
	LiveMode     bool
	ExpiresIn    int64 // seconds; 0 when not reported
}

// WebhookEventStatus tracks an inbound notification through processing.
type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookSkipped   WebhookEventStatus = "skipped"
	WebhookDropped   WebhookEventStatus = "dropped"
	WebhookFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is the persisted copy of an inbound notification.
type WebhookEvent struct {
	ID             string
	Topic          string
	Action         string
	ResourceID     string // data.id
	UserID         string // seller collector id reported by the provider
	OrgHint        string // org_id query parameter of the notification URL
	ReportedStatus string // data.status when present in the body
	RawBody        []byte
	SignatureValid bool
	Status         WebhookEventStatus
	Attempts       int
	LastError      string
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}
