package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
	"github.com/turnosalon/salon-payments/internal/core/ports"
	"github.com/turnosalon/salon-payments/internal/core/service"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

// Version is reported by the health endpoint. Overridden at build time.
var Version = "dev"

// ConnectionService runs the Mercado Pago OAuth connect flow.
type ConnectionService interface {
	AuthorizationURL(orgID string) (string, error)
	CompleteAuthorization(ctx context.Context, state, code string) (*service.Connection, error)
	Disconnect(ctx context.Context, orgID string) error
}

// LinkService issues and describes booking links.
type LinkService interface {
	Issue(ctx context.Context, in service.IssueLinkInput) (*service.IssuedLink, error)
	Describe(ctx context.Context, token, salonID string) (*service.LinkConfig, error)
}

// IntentService creates checkout preferences.
type IntentService interface {
	CreateIntent(ctx context.Context, in service.IntentInput) (*service.IntentResult, error)
}

// BookingService books appointments through a link.
type BookingService interface {
	Book(ctx context.Context, in service.BookingInput) (*service.BookingResult, error)
}

// WebhookReceiver persists and schedules inbound notifications.
type WebhookReceiver interface {
	Receive(ctx context.Context, rawBody []byte, query url.Values, signatureValid bool) (*domain.WebhookEvent, error)
}

// Deps are the collaborators of PaymentHandler.
type Deps struct {
	Connections   ConnectionService
	Links         LinkService
	Intents       IntentService
	Booking       BookingService
	Webhooks      WebhookReceiver
	Verifier      ports.SignatureVerifier
	WebhookSecret string
	FrontendURL   string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	connections   ConnectionService
	links         LinkService
	intents       IntentService
	booking       BookingService
	webhooks      WebhookReceiver
	verifier      ports.SignatureVerifier
	webhookSecret string
	frontendURL   string
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(d Deps) *PaymentHandler {
	return &PaymentHandler{
		connections:   d.Connections,
		links:         d.Links,
		intents:       d.Intents,
		booking:       d.Booking,
		webhooks:      d.Webhooks,
		verifier:      d.Verifier,
		webhookSecret: d.WebhookSecret,
		frontendURL:   strings.TrimRight(d.FrontendURL, "/"),
		metrics:       d.Metrics,
		logger:        d.Logger,
	}
}

// CreateIntentRequest represents the JSON body for the intents endpoint.
type CreateIntentRequest struct {
	OrgID         string           `json:"org_id"`
	AppointmentID string           `json:"appointment_id" binding:"required"`
	Title         string           `json:"title" binding:"required"`
	Description   string           `json:"description"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	BackURLs      *domain.BackURLs `json:"back_urls"`
	PayerEmail    string           `json:"payer_email" binding:"omitempty,email"`
	Metadata      map[string]any   `json:"metadata"`
}

// CreateIntent handles POST /api/v1/payments/intents
// Creates a checkout preference on the caller's connected account.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.sameOrg(c, req.OrgID) {
		return
	}

	res, err := h.intents.CreateIntent(c.Request.Context(), service.IntentInput{
		OrgID:         callerOrg(c),
		AppointmentID: req.AppointmentID,
		Title:         req.Title,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      req.Currency,
		BackURLs:      req.BackURLs,
		PayerEmail:    req.PayerEmail,
		Metadata:      req.Metadata,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"url":           res.URL,
		"preference_id": res.PreferenceID,
		"sandbox_url":   res.SandboxURL,
	})
}

// Connect handles GET /api/v1/mercadopago/connect
// Returns the consent URL the dashboard redirects the seller to.
func (h *PaymentHandler) Connect(c *gin.Context) {
	authURL, err := h.connections.AuthorizationURL(callerOrg(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "authorization_url": authURL})
}

// OAuthCallback handles GET /oauth/mercadopago/callback
// Mercado Pago redirects the seller here after consent; the seller is sent
// back to the dashboard either way.
func (h *PaymentHandler) OAuthCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	if code == "" || state == "" {
		h.logger.Warn("mercadopago oauth callback without code",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("provider_error", c.Query("error")))
		c.Redirect(http.StatusFound, h.settingsURL("error"))
		return
	}

	conn, err := h.connections.CompleteAuthorization(c.Request.Context(), state, code)
	if err != nil {
		h.logger.Warn("mercadopago oauth callback failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
		c.Redirect(http.StatusFound, h.settingsURL("error"))
		return
	}

	h.logger.Info("mercadopago oauth callback completed", zap.String("org_id", conn.OrgID))
	c.Redirect(http.StatusFound, h.settingsURL("connected"))
}

// Disconnect handles POST /api/v1/mercadopago/disconnect
func (h *PaymentHandler) Disconnect(c *gin.Context) {
	if err := h.connections.Disconnect(c.Request.Context(), callerOrg(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Health handles GET /health
func (h *PaymentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "salon-payments",
		"version": Version,
	})
}

func (h *PaymentHandler) settingsURL(result string) string {
	return h.frontendURL + "/settings/payments?mercadopago=" + url.QueryEscape(result)
}

// sameOrg rejects bodies naming an organization other than the caller's.
func (h *PaymentHandler) sameOrg(c *gin.Context, bodyOrg string) bool {
	if bodyOrg == "" || bodyOrg == callerOrg(c) {
		return true
	}
	c.JSON(http.StatusForbidden, ErrorResponse{
		Success: false,
		Error:   "org_id does not match the authenticated organization",
		Code:    "FORBIDDEN",
	})
	return false
}
