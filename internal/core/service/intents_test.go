package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

func newTestIntentCreator(store *memStore, gw *fakeGateway, tokens AccessTokenSource) *IntentCreator {
	c := NewIntentCreator(store, store, tokens, gw, IntentConfig{
		PublicBaseURL:   "https://pagos.turnosalon.com/",
		FrontendBaseURL: "https://app.turnosalon.com",
	}, metrics.New(), zap.NewNop())
	c.now = fixedClock(clockNow)
	return c
}

func seedAppointment(store *memStore, id, orgID, salonID string) {
	store.appointments[id] = domain.Appointment{
		ID: id, OrgID: orgID, SalonID: salonID, ServiceID: "SV1", ClientName: "Ana",
		StartsAt: clockNow.Add(24 * time.Hour), Status: domain.AppointmentPending, CreatedAt: clockNow,
	}
}

func TestIntentCreator_CreateIntent(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP1", "O1", "S1")
	gw := newFakeGateway()
	c := newTestIntentCreator(store, gw, staticTokens{"O1": "APP_USR-o1"})

	res, err := c.CreateIntent(context.Background(), IntentInput{
		OrgID: "O1", AppointmentID: "AP1", Title: "Corte", Amount: decimal.RequireFromString("1000.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "PREF-AP1", res.PreferenceID)
	assert.Contains(t, res.URL, "PREF-AP1")
	assert.Contains(t, res.SandboxURL, "sandbox")

	require.Len(t, gw.prefs, 1)
	req := gw.prefs[0]
	assert.Equal(t, "APP_USR-o1", gw.tokens[0])
	assert.Equal(t, "AP1", req.IdempotencyKey)
	assert.Equal(t, "AP1", req.ExternalReference)
	assert.Equal(t, "ARS", req.Currency)
	assert.Equal(t, "https://pagos.turnosalon.com/webhooks/mercadopago?org_id=O1", req.NotificationURL)
	assert.Equal(t, "https://app.turnosalon.com/booking/payment/success", req.BackURLs.Success)
	assert.Equal(t, "https://app.turnosalon.com/booking/payment/failure", req.BackURLs.Failure)
	assert.Equal(t, "https://app.turnosalon.com/booking/payment/pending", req.BackURLs.Pending)

	rec, err := store.GetPaymentByPreference(context.Background(), "PREF-AP1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, rec.Status)
	assert.Equal(t, "AP1", rec.AppointmentID)
	assert.Equal(t, "O1", rec.OrgID)
	assert.Empty(t, rec.ProviderPaymentID)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestIntentCreator_CustomBackURLsAndCurrency(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP1", "O1", "S1")
	gw := newFakeGateway()
	c := newTestIntentCreator(store, gw, staticTokens{"O1": "tok"})

	_, err := c.CreateIntent(context.Background(), IntentInput{
		OrgID: "O1", AppointmentID: "AP1", Title: "Corte", Amount: decimal.NewFromInt(10), Currency: "USD",
		BackURLs: &domain.BackURLs{Success: "https://salon.example.com/gracias"},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", gw.prefs[0].Currency)
	assert.Equal(t, domain.BackURLs{Success: "https://salon.example.com/gracias"}, gw.prefs[0].BackURLs)
}

func TestIntentCreator_Validation(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP1", "O1", "S1")
	gw := newFakeGateway()
	c := newTestIntentCreator(store, gw, staticTokens{"O1": "tok"})

	cases := map[string]IntentInput{
		"missing title":   {OrgID: "O1", AppointmentID: "AP1", Amount: decimal.NewFromInt(1)},
		"zero amount":     {OrgID: "O1", AppointmentID: "AP1", Title: "x"},
		"negative amount": {OrgID: "O1", AppointmentID: "AP1", Title: "x", Amount: decimal.NewFromInt(-5)},
		"missing org":     {AppointmentID: "AP1", Title: "x", Amount: decimal.NewFromInt(1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.CreateIntent(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
	assert.Empty(t, gw.prefs)
}

func TestIntentCreator_AppointmentOfAnotherOrg(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP9", "O2", "S9")
	gw := newFakeGateway()
	c := newTestIntentCreator(store, gw, staticTokens{"O1": "tok", "O2": "tok2"})

	_, err := c.CreateIntent(context.Background(), IntentInput{
		OrgID: "O1", AppointmentID: "AP9", Title: "x", Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, gw.prefs)
}

func TestIntentCreator_NotConnected(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP1", "O1", "S1")
	gw := newFakeGateway()
	c := newTestIntentCreator(store, gw, staticTokens{})

	_, err := c.CreateIntent(context.Background(), IntentInput{
		OrgID: "O1", AppointmentID: "AP1", Title: "x", Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Empty(t, gw.prefs)
}

func TestIntentCreator_ProviderFailureStoresNothing(t *testing.T) {
	store := newMemStore()
	seedAppointment(store, "AP1", "O1", "S1")
	gw := newFakeGateway()
	gw.prefErr = domain.NewServiceError(domain.ErrProviderUnavailable, "failed to create preference", "MP_PREFERENCE_ERROR")
	c := newTestIntentCreator(store, gw, staticTokens{"O1": "tok"})

	_, err := c.CreateIntent(context.Background(), IntentInput{
		OrgID: "O1", AppointmentID: "AP1", Title: "x", Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Empty(t, store.payments)
}
