package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/adapters/mercadopago"
	"github.com/turnosalon/salon-payments/internal/auth"
	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/service"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "test-webhook-secret"
)

type fakeConnections struct {
	authURL      string
	completeErr  error
	disconnected []string
	disconnErr   error
	gotState     string
}

func (f *fakeConnections) AuthorizationURL(orgID string) (string, error) {
	return f.authURL + "?state=" + orgID, nil
}

func (f *fakeConnections) CompleteAuthorization(_ context.Context, state, _ string) (*service.Connection, error) {
	f.gotState = state
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &service.Connection{OrgID: "O1", CollectorID: "111"}, nil
}

func (f *fakeConnections) Disconnect(_ context.Context, orgID string) error {
	if f.disconnErr != nil {
		return f.disconnErr
	}
	f.disconnected = append(f.disconnected, orgID)
	return nil
}

type fakeLinks struct {
	issued      []service.IssueLinkInput
	describeErr error
}

func (f *fakeLinks) Issue(_ context.Context, in service.IssueLinkInput) (*service.IssuedLink, error) {
	f.issued = append(f.issued, in)
	return &service.IssuedLink{ID: "L1", Token: "tok", URL: "http://front/booking/" + in.SalonID + "?token=tok"}, nil
}

func (f *fakeLinks) Describe(_ context.Context, token, salonID string) (*service.LinkConfig, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &service.LinkConfig{SalonID: salonID, Title: "Centro"}, nil
}

type fakeIntents struct {
	inputs []service.IntentInput
	err    error
}

func (f *fakeIntents) CreateIntent(_ context.Context, in service.IntentInput) (*service.IntentResult, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &service.IntentResult{URL: "https://mp/init", PreferenceID: "PREF-1"}, nil
}

type fakeBooking struct {
	inputs []service.BookingInput
	err    error
}

func (f *fakeBooking) Book(_ context.Context, in service.BookingInput) (*service.BookingResult, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &service.BookingResult{AppointmentID: "AP1", URL: "https://mp/init", PreferenceID: "PREF-AP1"}, nil
}

type fakeReceiver struct {
	bodies  [][]byte
	queries []url.Values
	valid   []bool
	err     error
}

func (f *fakeReceiver) Receive(_ context.Context, rawBody []byte, query url.Values, signatureValid bool) (*domain.WebhookEvent, error) {
	f.bodies = append(f.bodies, rawBody)
	f.queries = append(f.queries, query)
	f.valid = append(f.valid, signatureValid)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.WebhookEvent{ID: "EV1", Topic: "payment", ResourceID: "1001"}, nil
}

type testServer struct {
	router      *gin.Engine
	auth        *auth.Authenticator
	metrics     *metrics.Metrics
	connections *fakeConnections
	links       *fakeLinks
	intents     *fakeIntents
	booking     *fakeBooking
	receiver    *fakeReceiver
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	s := &testServer{
		auth:        auth.NewAuthenticator(jwtSecret),
		metrics:     metrics.New(),
		connections: &fakeConnections{authURL: "https://auth.mercadopago.com/authorization"},
		links:       &fakeLinks{},
		intents:     &fakeIntents{},
		booking:     &fakeBooking{},
		receiver:    &fakeReceiver{},
	}
	h := NewPaymentHandler(Deps{
		Connections:   s.connections,
		Links:         s.links,
		Intents:       s.intents,
		Booking:       s.booking,
		Webhooks:      s.receiver,
		Verifier:      mercadopago.NewWebhookValidator(mercadopago.SchemeFields),
		WebhookSecret: secret,
		FrontendURL:   "https://app.example.com/",
		Metrics:       s.metrics,
		Logger:        zap.NewNop(),
	})
	s.router = SetupRouter(h, s.auth, s.metrics, zap.NewNop(), gin.TestMode)
	return s
}

func (s *testServer) token(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := s.auth.GenerateToken("user-1", orgID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + tok}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "salon-payments", body["service"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.metrics.LinksIssued.Inc()

	w := s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "booking_links_issued_total 1")
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, "")
	noOrg, err := s.auth.GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "missing header", header: nil},
		{name: "wrong scheme", header: http.Header{"Authorization": []string{"Basic abc"}}},
		{name: "garbage token", header: bearer("not-a-jwt")},
		{name: "token without org", header: bearer(noOrg)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/v1/mercadopago/connect", nil, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", decode(t, w)["code"])
		})
	}
}

func TestIssueLink(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/links",
		map[string]any{"salon_id": "S1", "metadata": map[string]any{"deposit_amount": 500}},
		bearer(s.token(t, "O1")))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, s.links.issued, 1)
	assert.Equal(t, "O1", s.links.issued[0].OrgID, "org comes from the token")
	assert.Equal(t, "S1", s.links.issued[0].SalonID)
	link := decode(t, w)["link"].(map[string]any)
	assert.Equal(t, "tok", link["token"])
}

func TestIssueLink_OrgMismatch(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/links",
		map[string]any{"org_id": "O2", "salon_id": "S9"},
		bearer(s.token(t, "O1")))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, s.links.issued)
}

func TestPublicLink_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unknown", err: domain.ErrLinkNotFound, status: http.StatusNotFound},
		{name: "expired", err: domain.ErrLinkExpired, status: http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			s.links.describeErr = tt.err

			w := s.do(t, http.MethodGet, "/api/v1/public/links?token=x&salon_id=S1", nil, nil)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, "INVALID_LINK", body["code"])
			assert.Equal(t, domain.ErrInvalidToken.Error(), body["error"])
		})
	}
}

func TestPublicLink(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/api/v1/public/links?token=x&salon_id=S1", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	link := decode(t, w)["link"].(map[string]any)
	assert.Equal(t, "S1", link["salon_id"])
}

func TestPublicBooking(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/public/bookings", map[string]any{
		"token":        "tok",
		"salon_id":     "S1",
		"service_id":   "SV1",
		"starts_at":    "2026-03-16T14:00:00Z",
		"client_name":  "Ana",
		"client_email": "ana@example.com",
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "AP1", body["appointment_id"])
	assert.Equal(t, "https://mp/init", body["url"])
	require.Len(t, s.booking.inputs, 1)
	assert.True(t, s.booking.inputs[0].StartsAt.Equal(time.Date(2026, 3, 16, 14, 0, 0, 0, time.UTC)))
}

func TestPublicBooking_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "slot taken", err: domain.NewServiceError(domain.ErrSlotUnavailable, "slot", "SLOT_UNAVAILABLE"), status: http.StatusConflict, code: "SLOT_UNAVAILABLE"},
		{name: "not connected", err: domain.NewServiceError(domain.ErrNotConnected, "org O1", "MP_NOT_CONNECTED"), status: http.StatusBadRequest, code: "MP_NOT_CONNECTED"},
		{name: "provider down", err: domain.NewServiceError(domain.ErrProviderUnavailable, "boom", "MP_PREFERENCE_ERROR"), status: http.StatusBadGateway, code: "MP_PREFERENCE_ERROR"},
		{name: "expired link", err: domain.ErrLinkExpired, status: http.StatusGone, code: "INVALID_LINK"},
		{name: "unexpected", err: assert.AnError, status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "")
			s.booking.err = tt.err
			w := s.do(t, http.MethodPost, "/api/v1/public/bookings", map[string]any{
				"token": "tok", "salon_id": "S1", "service_id": "SV1",
				"starts_at": "2026-03-16T14:00:00Z", "client_name": "Ana",
			}, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
		})
	}
}

func TestPublicBooking_Validation(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/public/bookings", map[string]any{"token": "tok"}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.booking.inputs)
}

func TestCreateIntent(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/payments/intents", map[string]any{
		"appointment_id": "AP1",
		"title":          "Corte",
		"amount":         "1500.50",
	}, bearer(s.token(t, "O1")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PREF-1", decode(t, w)["preference_id"])
	require.Len(t, s.intents.inputs, 1)
	assert.Equal(t, "O1", s.intents.inputs[0].OrgID)
	assert.Equal(t, "1500.5", s.intents.inputs[0].Amount.String())
}

func TestCreateIntent_RefreshFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, "")
	s.intents.err = domain.NewServiceError(domain.ErrRefreshFailed, "refresh", "MP_REFRESH_FAILED")

	w := s.do(t, http.MethodPost, "/api/v1/payments/intents",
		map[string]any{"appointment_id": "AP1", "title": "Corte", "amount": 10},
		bearer(s.token(t, "O1")))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "MP_REFRESH_FAILED", decode(t, w)["code"])
}

func TestCreateIntent_OrgMismatch(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/payments/intents",
		map[string]any{"org_id": "O2", "appointment_id": "AP9", "title": "Corte", "amount": 10},
		bearer(s.token(t, "O1")))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, s.intents.inputs)
}

func TestConnectAndCallback(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/v1/mercadopago/connect", nil, bearer(s.token(t, "O1")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["authorization_url"], "state=O1")

	w = s.do(t, http.MethodGet, "/oauth/mercadopago/callback?code=TG-1&state=signed", nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.example.com/settings/payments?mercadopago=connected", w.Header().Get("Location"))
	assert.Equal(t, "signed", s.connections.gotState)
}

func TestCallback_Failures(t *testing.T) {
	s := newTestServer(t, "")
	s.connections.completeErr = domain.NewServiceError(domain.ErrInvalidRequest, "invalid oauth state", "INVALID_STATE")

	for _, target := range []string{
		"/oauth/mercadopago/callback?code=TG-1&state=forged",
		"/oauth/mercadopago/callback?error=access_denied",
	} {
		w := s.do(t, http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://app.example.com/settings/payments?mercadopago=error", w.Header().Get("Location"))
	}
}

func TestDisconnect(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/mercadopago/disconnect", nil, bearer(s.token(t, "O1")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"O1"}, s.connections.disconnected)

	s.connections.disconnErr = domain.NewServiceError(domain.ErrNotConnected, "org O1", "MP_NOT_CONNECTED")
	w = s.do(t, http.MethodPost, "/api/v1/mercadopago/disconnect", nil, bearer(s.token(t, "O1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_ValidSignature(t *testing.T) {
	s := newTestServer(t, webhookSecret)
	body := []byte(`{"type":"payment","action":"payment.updated","data":{"id":"1001"}}`)
	sig := mercadopago.NewWebhookValidator(mercadopago.SchemeFields).Sign("1700000000", body, webhookSecret)

	w := s.do(t, http.MethodPost, "/webhooks/mercadopago?org_id=O1", body, http.Header{"X-Signature": []string{sig}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "received", decode(t, w)["status"])
	require.Len(t, s.receiver.bodies, 1)
	assert.Equal(t, body, s.receiver.bodies[0], "raw bytes are passed through")
	assert.Equal(t, "O1", s.receiver.queries[0].Get("org_id"))
	assert.True(t, s.receiver.valid[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.WebhooksReceived.WithLabelValues("valid")))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	s := newTestServer(t, webhookSecret)
	body := []byte(`{"type":"payment","data":{"id":"1001"}}`)

	w := s.do(t, http.MethodPost, "/webhooks/mercadopago", body, http.Header{"X-Signature": []string{"ts=1,v1=deadbeef"}})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.receiver.bodies)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.WebhooksReceived.WithLabelValues("invalid")))
}

func TestWebhook_UnverifiedWithoutSecret(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/webhooks/mercadopago", []byte(`{"type":"payment","data":{"id":"1"}}`), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.receiver.valid, 1)
	assert.False(t, s.receiver.valid[0])
}

func TestWebhook_StorageFailureStillAcknowledged(t *testing.T) {
	s := newTestServer(t, "")
	s.receiver.err = assert.AnError

	w := s.do(t, http.MethodPost, "/webhooks/mercadopago", []byte(`{"type":"payment","data":{"id":"1"}}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/webhooks/mercadopago", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
