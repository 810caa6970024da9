package bookingcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

func TestClient_Slots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/internal/salons/S1/availability", r.URL.Path)
		assert.Equal(t, "SV1", r.URL.Query().Get("service_id"))
		assert.Equal(t, "2026-03-10", r.URL.Query().Get("date"))
		assert.Equal(t, "core-key", r.Header.Get("X-Internal-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"time":"2026-03-10T14:00:00Z","available":true},{"time":"2026-03-10T15:00:00Z","available":false}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "core-key", time.Second)
	slots, err := c.Slots(context.Background(), "S1", "SV1", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Available)
	assert.False(t, slots[1].Available)
	assert.Equal(t, 15, slots[1].Time.Hour())
}

func TestClient_SlotsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", time.Second).Slots(context.Background(), "S1", "SV1", time.Now())
	assert.ErrorIs(t, err, domain.ErrBookingCoreUnavailable)
}

func TestClient_NotifyAppointmentConfirmed(t *testing.T) {
	var got confirmationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/internal/appointments/AP1/payment-confirmed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k", time.Second).NotifyAppointmentConfirmed(context.Background(),
		&domain.Appointment{ID: "AP1", OrgID: "O1"},
		&domain.PaymentRecord{ProviderPaymentID: "PAY1", Status: domain.PaymentApproved,
			Amount: decimal.NewFromInt(1000), Currency: "ARS", PaymentMethod: "visa"})
	require.NoError(t, err)

	assert.Equal(t, "AP1", got.AppointmentID)
	assert.Equal(t, "PAY1", got.ProviderPaymentID)
	assert.Equal(t, "1000.00", got.Amount)
	assert.Equal(t, "approved", got.Status)
}
