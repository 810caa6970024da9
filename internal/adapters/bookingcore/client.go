// Package bookingcore provides the HTTP client for the booking application's internal API.
package bookingcore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// Client implements ports.SlotSource and ports.ConfirmationNotifier.
type Client struct {
	http *resty.Client
}

// NewClient creates a new booking core client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("X-Internal-API-Key", apiKey).
			SetHeader("Accept", "application/json"),
	}
}

type slotResponse struct {
	Time      time.Time `json:"time"`
	Available bool      `json:"available"`
}

// Slots fetches candidate times for a service on the given day.
// GET /api/v1/internal/salons/:salon_id/availability?service_id=&date=YYYY-MM-DD
func (c *Client) Slots(ctx context.Context, salonID, serviceID string, day time.Time) ([]domain.Slot, error) {
	var out []slotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("salon_id", salonID).
		SetQueryParam("service_id", serviceID).
		SetQueryParam("date", day.Format("2006-01-02")).
		SetResult(&out).
		Get("/api/v1/internal/salons/{salon_id}/availability")
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrBookingCoreUnavailable,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.IsError() {
		return nil, domain.NewServiceError(domain.ErrBookingCoreUnavailable,
			fmt.Sprintf("booking core returned status %d", resp.StatusCode()), "CORE_ERROR")
	}

	slots := make([]domain.Slot, 0, len(out))
	for _, s := range out {
		slots = append(slots, domain.Slot{Time: s.Time, Available: s.Available})
	}
	return slots, nil
}

type confirmationPayload struct {
	AppointmentID     string `json:"appointment_id"`
	OrgID             string `json:"org_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	PaymentMethod     string `json:"payment_method"`
}

// NotifyAppointmentConfirmed tells the booking core that an appointment was paid.
// POST /api/v1/internal/appointments/:id/payment-confirmed
func (c *Client) NotifyAppointmentConfirmed(ctx context.Context, appt *domain.Appointment, record *domain.PaymentRecord) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", appt.ID).
		SetBody(confirmationPayload{
			AppointmentID:     appt.ID,
			OrgID:             appt.OrgID,
			ProviderPaymentID: record.ProviderPaymentID,
			Status:            string(record.Status),
			Amount:            record.Amount.StringFixed(2),
			Currency:          record.Currency,
			PaymentMethod:     record.PaymentMethod,
		}).
		Post("/api/v1/internal/appointments/{id}/payment-confirmed")
	if err != nil {
		return domain.NewServiceError(domain.ErrBookingCoreUnavailable,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	if resp.IsError() {
		return domain.NewServiceError(domain.ErrBookingCoreUnavailable,
			fmt.Sprintf("booking core returned status %d: %s", resp.StatusCode(), resp.String()), "CORE_ERROR")
	}
	return nil
}
