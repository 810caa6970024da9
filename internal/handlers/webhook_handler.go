package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// HandleWebhook handles POST /webhooks/mercadopago
// Receives Mercado Pago notifications. Once the signature checks out the
// event is stored and acknowledged; processing happens in the background.
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: "unreadable body", Code: "VALIDATION_ERROR"})
		return
	}

	log := h.logger.With(
		zap.String("request_id", c.GetString("request_id")),
		zap.String("x_request_id", c.GetHeader("x-request-id")))

	signatureValid := false
	switch {
	case h.webhookSecret == "":
		h.metrics.WebhooksReceived.WithLabelValues("unverified").Inc()
	case h.verifier.Verify(c.GetHeader("x-signature"), rawBody, h.webhookSecret):
		signatureValid = true
		h.metrics.WebhooksReceived.WithLabelValues("valid").Inc()
	default:
		h.metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		log.Warn("webhook signature rejected")
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Success: false,
			Error:   "invalid signature",
			Code:    "INVALID_SIGNATURE",
		})
		return
	}

	ev, err := h.webhooks.Receive(c.Request.Context(), rawBody, c.Request.URL.Query(), signatureValid)
	if err != nil {
		// Still return 200 to prevent MP from retrying (we log the error)
		log.Error("webhook could not be stored", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	log.Info("webhook received",
		zap.String("event_id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.String("resource_id", ev.ResourceID))
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
