package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// errorMapping ties a domain error to its HTTP status. Order matters: a
// refresh failure wraps the provider error and must win over it.
var errorMapping = []struct {
	err    error
	status int
	code   string
	public bool // whether the error text may be shown to the caller
}{
	{domain.ErrLinkExpired, http.StatusGone, "INVALID_LINK", false},
	{domain.ErrInvalidToken, http.StatusNotFound, "INVALID_LINK", false},
	{domain.ErrNotConnected, http.StatusBadRequest, "MP_NOT_CONNECTED", true},
	{domain.ErrNoRefreshToken, http.StatusBadRequest, "MP_REAUTH_REQUIRED", true},
	{domain.ErrRefreshFailed, http.StatusBadGateway, "MP_REFRESH_FAILED", false},
	{domain.ErrProviderUnavailable, http.StatusBadGateway, "MP_UNAVAILABLE", false},
	{domain.ErrBookingCoreUnavailable, http.StatusBadGateway, "CORE_UNAVAILABLE", false},
	{domain.ErrSlotUnavailable, http.StatusConflict, "SLOT_UNAVAILABLE", true},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "VALIDATION_ERROR", true},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", true},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN", true},
	{domain.ErrDecryption, http.StatusInternalServerError, "CREDENTIAL_ERROR", false},
	{domain.ErrConfiguration, http.StatusInternalServerError, "CONFIGURATION_ERROR", false},
}

// respondError maps domain errors to HTTP responses. Server-side failures
// are logged in full and answered with the sentinel text only.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}

		msg := m.err.Error()
		code := m.code
		var svcErr *domain.ServiceError
		if errors.As(err, &svcErr) && svcErr.Code != "" && m.code != "INVALID_LINK" {
			code = svcErr.Code
		}
		if m.public {
			msg = err.Error()
		}
		if m.err == domain.ErrLinkExpired {
			msg = domain.ErrInvalidToken.Error()
		}

		if m.status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("code", code),
				zap.Error(err))
		}
		c.JSON(m.status, ErrorResponse{Success: false, Error: msg, Code: code})
		return
	}

	log.Error("unhandled error",
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Success: false,
		Error:   "Internal server error",
		Code:    "INTERNAL_ERROR",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Error:   "Invalid request body: " + err.Error(),
		Code:    "VALIDATION_ERROR",
	})
}
