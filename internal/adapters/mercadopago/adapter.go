// Package mercadopago implements the PaymentGateway interface using the official SDK.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

const idempotencyHeader = "X-Idempotency-Key"

// AdapterConfig configures outbound calls to the Mercado Pago API.
type AdapterConfig struct {
	// BaseURL overrides https://api.mercadopago.com (sandbox proxies, tests).
	BaseURL string
	Timeout time.Duration
}

// Adapter implements ports.PaymentGateway using Mercado Pago SDK.
type Adapter struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *zap.Logger
}

// NewAdapter creates a new Mercado Pago adapter.
func NewAdapter(cfg AdapterConfig, logger *zap.Logger) (*Adapter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &Adapter{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Host == "" {
			return nil, domain.NewServiceError(domain.ErrConfiguration,
				"invalid Mercado Pago API base URL", "MP_CONFIG_ERROR")
		}
		a.baseURL = u
	}
	return a, nil
}

// requester is handed to the SDK as its HTTP client. It pins the idempotency
// key for the call and optionally redirects requests to a different host.
type requester struct {
	client         *http.Client
	baseURL        *url.URL
	idempotencyKey string
}

func (r *requester) Do(req *http.Request) (*http.Response, error) {
	if r.idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, r.idempotencyKey)
	}
	if r.baseURL != nil {
		req.URL.Scheme = r.baseURL.Scheme
		req.URL.Host = r.baseURL.Host
		req.Host = r.baseURL.Host
	}
	return r.client.Do(req)
}

func (a *Adapter) sdkConfig(accessToken, idempotencyKey string) (*config.Config, error) {
	cfg, err := config.New(accessToken, config.WithHTTPClient(&requester{
		client:         a.httpClient,
		baseURL:        a.baseURL,
		idempotencyKey: idempotencyKey,
	}))
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrConfiguration,
			"failed to create MP config", "MP_CONFIG_ERROR")
	}
	return cfg, nil
}

// CreatePreference creates a Checkout Pro preference.
func (a *Adapter) CreatePreference(ctx context.Context, accessToken string, req domain.PreferenceRequest) (*domain.Preference, error) {
	cfg, err := a.sdkConfig(accessToken, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	client := preference.NewClient(cfg)

	prefRequest := preference.Request{
		Items: []preference.ItemRequest{
			{
				ID:          req.ExternalReference,
				Title:       req.Title,
				Description: req.Description,
				Quantity:    1,
				UnitPrice:   req.Amount.InexactFloat64(),
				CurrencyID:  req.Currency,
			},
		},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		Metadata:          req.Metadata,
	}
	if req.PayerEmail != "" {
		prefRequest.Payer = &preference.PayerRequest{Email: req.PayerEmail}
	}
	if req.BackURLs != (domain.BackURLs{}) {
		prefRequest.BackURLs = &preference.BackURLsRequest{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		}
		if req.BackURLs.Success != "" {
			prefRequest.AutoReturn = "approved"
		}
	}

	result, err := client.Create(ctx, prefRequest)
	if err != nil {
		a.logger.Warn("mercadopago preference create failed",
			zap.String("external_reference", req.ExternalReference),
			zap.Error(err))
		return nil, providerError(err, "failed to create preference", "MP_PREFERENCE_ERROR")
	}

	return &domain.Preference{
		ID:               result.ID,
		InitPoint:        result.InitPoint,
		SandboxInitPoint: result.SandboxInitPoint,
	}, nil
}

// GetPayment retrieves payment details from Mercado Pago.
func (a *Adapter) GetPayment(ctx context.Context, accessToken string, paymentID string) (*domain.ProviderPayment, error) {
	id, err := strconv.Atoi(paymentID)
	if err != nil {
		return nil, domain.NewServiceError(domain.ErrInvalidRequest,
			"invalid payment ID format", "INVALID_PAYMENT_ID")
	}

	cfg, err := a.sdkConfig(accessToken, "")
	if err != nil {
		return nil, err
	}

	client := payment.NewClient(cfg)

	result, err := client.Get(ctx, id)
	if err != nil {
		a.logger.Warn("mercadopago payment fetch failed",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return nil, providerError(err, "failed to get payment info", "MP_PAYMENT_ERROR")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	info := &domain.ProviderPayment{
		ID:                paymentID,
		Status:            result.Status,
		StatusDetail:      result.StatusDetail,
		ExternalReference: result.ExternalReference,
		Amount:            decimal.NewFromFloat(result.TransactionAmount),
		Currency:          result.CurrencyID,
		PaymentMethod:     result.PaymentMethodID,
		PaymentType:       result.PaymentTypeID,
		PayerEmail:        result.Payer.Email,
		CollectorID:       collectorID(raw),
		Raw:               raw,
	}
	if !result.DateApproved.IsZero() {
		approved := result.DateApproved
		info.DateApproved = &approved
	}
	return info, nil
}

func collectorID(raw []byte) string {
	var v struct {
		CollectorID json.Number `json:"collector_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.CollectorID.String()
}

// providerError maps SDK failures to ErrProviderUnavailable. Context
// cancellation keeps its own identity so callers can tell a deadline apart.
func providerError(err error, message, code string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewServiceError(errors.Join(domain.ErrProviderUnavailable, err), message+": timeout", code)
	}
	return domain.NewServiceError(domain.ErrProviderUnavailable, message+": "+err.Error(), code)
}
