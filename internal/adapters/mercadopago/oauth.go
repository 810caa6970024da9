package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const (
	defaultAPIBaseURL  = "https://api.mercadopago.com"
	defaultAuthBaseURL = "https://auth.mercadopago.com"
)

// OAuthConfig holds the marketplace application credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBaseURL   string
	AuthBaseURL  string
	Timeout      time.Duration
}

// OAuthClient implements ports.TokenClient against /oauth/token.
type OAuthClient struct {
	cfg    OAuthConfig
	client *resty.Client
	logger *zap.Logger
}

// NewOAuthClient creates a token endpoint client.
func NewOAuthClient(cfg OAuthConfig, logger *zap.Logger) *OAuthClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = defaultAuthBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &OAuthClient{cfg: cfg, client: client, logger: logger}
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	Scope        string      `json:"scope"`
	UserID       json.Number `json:"user_id"`
	RefreshToken string      `json:"refresh_token"`
	PublicKey    string      `json:"public_key"`
	LiveMode     bool        `json:"live_mode"`
}

type tokenError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// ExchangeCode trades an authorization code for the first token pair.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*domain.OAuthToken, error) {
	return c.token(ctx, map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": c.cfg.RedirectURI,
	})
}

// Refresh performs a grant_type=refresh_token exchange.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*domain.OAuthToken, error) {
	return c.token(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
}

func (c *OAuthClient) token(ctx context.Context, form map[string]string) (*domain.OAuthToken, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil, domain.NewServiceError(domain.ErrConfiguration,
			"Mercado Pago client credentials are not configured", "MP_OAUTH_NOT_CONFIGURED")
	}
	form["client_id"] = c.cfg.ClientID
	form["client_secret"] = c.cfg.ClientSecret

	var out tokenResponse
	var apiErr tokenError
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post("/oauth/token")
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrProviderUnavailable,
			"token endpoint unreachable: "+err.Error(), "MP_OAUTH_UNAVAILABLE")
	}
	if resp.IsError() {
		c.logger.Warn("mercadopago token endpoint rejected request",
			zap.String("grant_type", form["grant_type"]),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", apiErr.Error),
			zap.String("message", apiErr.Message))
		return nil, domain.NewServiceError(domain.ErrProviderUnavailable,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode(), apiErr.Message), "MP_OAUTH_ERROR")
	}
	if out.AccessToken == "" {
		return nil, domain.NewServiceError(domain.ErrProviderUnavailable,
			"token endpoint returned no access token", "MP_OAUTH_ERROR")
	}

	return &domain.OAuthToken{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		Scope:        out.Scope,
		UserID:       out.UserID.String(),
		PublicKey:    out.PublicKey,
		LiveMode:     out.LiveMode,
		ExpiresIn:    out.ExpiresIn,
	}, nil
}

// AuthorizationURL builds the seller consent URL for the given state.
func (c *OAuthClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("platform_id", "mp")
	q.Set("state", state)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	return c.cfg.AuthBaseURL + "/authorization?" + q.Encode()
}
