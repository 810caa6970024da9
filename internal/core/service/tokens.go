// Package service implements the core business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

const (
	// DefaultRefreshSkew is how long before expiry a token is already treated as stale.
	DefaultRefreshSkew = 5 * time.Minute

	oauthStateTTL = 15 * time.Minute
)

// StateSigner issues and verifies the OAuth state parameter.
type StateSigner interface {
	SignState(orgID string, validity time.Duration) (string, error)
	VerifyState(state string) (string, error)
}

// Connection is the non-secret view of a stored credential.
type Connection struct {
	OrgID       string     `json:"org_id"`
	CollectorID string     `json:"collector_id"`
	LiveMode    bool       `json:"live_mode"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// TokenManager owns the per-organization Mercado Pago credential lifecycle.
type TokenManager struct {
	creds   ports.CredentialStore
	vault   ports.SecretVault
	oauth   ports.TokenClient
	states  StateSigner
	metrics *metrics.Metrics
	logger  *zap.Logger

	skew  time.Duration
	now   func() time.Time
	group singleflight.Group
}

// NewTokenManager creates a new token manager.
func NewTokenManager(
	creds ports.CredentialStore,
	vault ports.SecretVault,
	oauth ports.TokenClient,
	states StateSigner,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TokenManager {
	return &TokenManager{
		creds:   creds,
		vault:   vault,
		oauth:   oauth,
		states:  states,
		metrics: m,
		logger:  logger,
		skew:    DefaultRefreshSkew,
		now:     time.Now,
	}
}

// GetValidAccessToken returns a plaintext access token for orgID, refreshing
// it first when it expires within the skew window or its expiry is unknown.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, orgID string) (string, error) {
	cred, err := m.loadCredential(ctx, orgID)
	if err != nil {
		return "", err
	}
	if !m.needsRefresh(cred) {
		return m.vault.Decrypt(cred.AccessToken)
	}

	// Concurrent callers for the same org share one refresh. The shared call
	// is detached so one caller's cancellation does not fail the others.
	v, err, shared := m.group.Do(orgID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), orgID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("joined in-flight token refresh", zap.String("org_id", orgID))
	}
	return v.(string), nil
}

func (m *TokenManager) loadCredential(ctx context.Context, orgID string) (*domain.ProviderCredential, error) {
	cred, err := m.creds.GetCredential(ctx, orgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewServiceError(domain.ErrNotConnected, "org "+orgID, "MP_NOT_CONNECTED")
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}

func (m *TokenManager) needsRefresh(cred *domain.ProviderCredential) bool {
	if cred.ExpiresAt == nil {
		// Unknown expiry with nothing to refresh with: the stored token is all we have.
		return cred.RefreshToken != nil
	}
	return !m.now().Before(cred.ExpiresAt.Add(-m.skew))
}

func (m *TokenManager) refresh(ctx context.Context, orgID string) (string, error) {
	// Re-read: another refresh may have finished between the caller's check and now.
	cred, err := m.loadCredential(ctx, orgID)
	if err != nil {
		return "", err
	}
	if !m.needsRefresh(cred) {
		return m.vault.Decrypt(cred.AccessToken)
	}
	if cred.RefreshToken == nil {
		m.metrics.TokenRefreshes.WithLabelValues("no_refresh_token").Inc()
		return "", domain.NewServiceError(domain.ErrNoRefreshToken, "org "+orgID, "MP_REAUTH_REQUIRED")
	}

	refreshToken, err := m.vault.Decrypt(*cred.RefreshToken)
	if err != nil {
		return "", err
	}

	tok, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		m.metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		m.logger.Warn("mercadopago token refresh failed", zap.String("org_id", orgID), zap.Error(err))
		return "", domain.NewServiceError(fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err),
			"org "+orgID, "MP_REFRESH_FAILED")
	}

	if err := m.applyToken(cred, tok); err != nil {
		return "", err
	}
	if err := m.creds.UpsertCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("store refreshed credential: %w", err)
	}

	m.metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	m.logger.Info("mercadopago token refreshed", zap.String("org_id", orgID), zap.Timep("expires_at", cred.ExpiresAt))
	return tok.AccessToken, nil
}

// applyToken writes a token endpoint response onto cred. The stored refresh
// token is only replaced when the provider issued a new one.
func (m *TokenManager) applyToken(cred *domain.ProviderCredential, tok *domain.OAuthToken) error {
	access, err := m.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	cred.AccessToken = access

	if tok.RefreshToken != "" {
		refresh, err := m.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		cred.RefreshToken = &refresh
	}

	now := m.now().UTC()
	cred.ExpiresAt = nil
	if tok.ExpiresIn > 0 {
		expires := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expires
	}
	if tok.UserID != "" {
		cred.CollectorID = tok.UserID
	}
	if tok.Scope != "" {
		cred.Scope = tok.Scope
	}
	if tok.PublicKey != "" {
		cred.PublicKey = tok.PublicKey
	}
	cred.LiveMode = tok.LiveMode
	cred.UpdatedAt = now
	return nil
}

// AuthorizationURL returns the seller consent URL carrying a signed state for orgID.
func (m *TokenManager) AuthorizationURL(orgID string) (string, error) {
	state, err := m.states.SignState(orgID, oauthStateTTL)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return m.oauth.AuthorizationURL(state), nil
}

// CompleteAuthorization verifies the callback state and connects the org it names.
func (m *TokenManager) CompleteAuthorization(ctx context.Context, state, code string) (*Connection, error) {
	orgID, err := m.states.VerifyState(state)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest, "invalid oauth state", "INVALID_STATE")
	}
	return m.Connect(ctx, orgID, code)
}

// Connect exchanges an authorization code and stores the resulting credential.
func (m *TokenManager) Connect(ctx context.Context, orgID, code string) (*Connection, error) {
	if orgID == "" || code == "" {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest, "org and code are required", "VALIDATION_ERROR")
	}

	tok, err := m.oauth.ExchangeCode(ctx, code)
	if err != nil {
		m.logger.Warn("mercadopago authorization code exchange failed", zap.String("org_id", orgID), zap.Error(err))
		return nil, err
	}

	cred := &domain.ProviderCredential{OrgID: orgID}
	if err := m.applyToken(cred, tok); err != nil {
		return nil, err
	}
	if err := m.creds.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	m.logger.Info("mercadopago account connected",
		zap.String("org_id", orgID),
		zap.String("collector_id", cred.CollectorID),
		zap.Bool("live_mode", cred.LiveMode))
	return &Connection{OrgID: orgID, CollectorID: cred.CollectorID, LiveMode: cred.LiveMode, ExpiresAt: cred.ExpiresAt}, nil
}

// Disconnect removes the org's stored credential.
func (m *TokenManager) Disconnect(ctx context.Context, orgID string) error {
	err := m.creds.DeleteCredential(ctx, orgID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewServiceError(domain.ErrNotConnected, "org "+orgID, "MP_NOT_CONNECTED")
	}
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	m.logger.Info("mercadopago account disconnected", zap.String("org_id", orgID))
	return nil
}
