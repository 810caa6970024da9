package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/auth"
	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/metrics"
	"github.com/turnosalon/salon-payments/internal/vault"
)

type fakeGateway struct {
	mu          sync.Mutex
	prefs       []domain.PreferenceRequest
	tokens      []string
	prefErr     error
	payments    map[string]*domain.ProviderPayment
	paymentErr  error
	paymentGets int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*domain.ProviderPayment{}}
}

func (g *fakeGateway) CreatePreference(_ context.Context, accessToken string, req domain.PreferenceRequest) (*domain.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefs = append(g.prefs, req)
	g.tokens = append(g.tokens, accessToken)
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	id := "PREF-" + req.ExternalReference
	return &domain.Preference{
		ID:               id,
		InitPoint:        "https://www.mercadopago.com.ar/checkout/v1/redirect?pref_id=" + id,
		SandboxInitPoint: "https://sandbox.mercadopago.com.ar/checkout/v1/redirect?pref_id=" + id,
	}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, accessToken string, paymentID string) (*domain.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentGets++
	g.tokens = append(g.tokens, accessToken)
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, domain.NewServiceError(domain.ErrProviderUnavailable, "payment "+paymentID, "MP_PAYMENT_ERROR")
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) setPayment(p *domain.ProviderPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *fakeGateway) gets() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paymentGets
}

type fakeTokenClient struct {
	refreshes atomic.Int32
	refreshed chan struct{} // closed to release blocked refreshes; nil means no blocking
	token     *domain.OAuthToken
	err       error
	lastRT    atomic.Value
}

func (c *fakeTokenClient) ExchangeCode(_ context.Context, code string) (*domain.OAuthToken, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.token, nil
}

func (c *fakeTokenClient) Refresh(_ context.Context, refreshToken string) (*domain.OAuthToken, error) {
	c.refreshes.Add(1)
	c.lastRT.Store(refreshToken)
	if c.refreshed != nil {
		<-c.refreshed
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.token, nil
}

func (c *fakeTokenClient) AuthorizationURL(state string) string {
	return "https://auth.mercadopago.com/authorization?state=" + state
}

type staticTokens map[string]string

func (s staticTokens) GetValidAccessToken(_ context.Context, orgID string) (string, error) {
	tok, ok := s[orgID]
	if !ok {
		return "", domain.NewServiceError(domain.ErrNotConnected, "org "+orgID, "MP_NOT_CONNECTED")
	}
	return tok, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyAppointmentConfirmed(_ context.Context, appt *domain.Appointment, _ *domain.PaymentRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, appt.ID)
	return n.err
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return v
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// storeCredential encrypts and stores a credential for orgID.
func storeCredential(t *testing.T, store *memStore, v *vault.Vault, orgID, access, refresh, collector string, expiresAt *time.Time) {
	t.Helper()
	enc, err := v.Encrypt(access)
	require.NoError(t, err)
	cred := &domain.ProviderCredential{OrgID: orgID, CollectorID: collector, AccessToken: enc, ExpiresAt: expiresAt}
	if refresh != "" {
		rt, err := v.Encrypt(refresh)
		require.NoError(t, err)
		cred.RefreshToken = &rt
	}
	require.NoError(t, store.UpsertCredential(context.Background(), cred))
	store.credUpserts = 0
}

func newTestTokenManager(store *memStore, v *vault.Vault, client *fakeTokenClient) *TokenManager {
	return NewTokenManager(store, v, client, auth.NewAuthenticator("state-secret"), metrics.New(), zap.NewNop())
}
