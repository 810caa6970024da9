// Package domain contains the core business entities for the payment service.
package domain

import "errors"

// Domain errors - represent business rule violations.
var (
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller acts on another organization's data.
	ErrForbidden = errors.New("forbidden")

	// ErrConfiguration is returned when a required process secret is missing.
	ErrConfiguration = errors.New("service is not configured")

	// ErrNotConnected is returned when the organization has no Mercado Pago credential.
	ErrNotConnected = errors.New("mercado pago account is not connected")

	// ErrNoRefreshToken is returned when the access token expired and cannot be refreshed.
	ErrNoRefreshToken = errors.New("mercado pago authorization expired, reconnect the account")

	// ErrRefreshFailed is returned when the provider rejects a refresh attempt.
	ErrRefreshFailed = errors.New("mercado pago token refresh failed")

	// ErrInvalidToken is the client-facing error for any unusable booking link.
	ErrInvalidToken = errors.New("invalid or expired booking link")

	// ErrLinkNotFound is returned for unknown, inactive or out-of-scope links.
	ErrLinkNotFound = &linkError{reason: "not found"}

	// ErrLinkExpired is returned for links past their expiry.
	ErrLinkExpired = &linkError{reason: "expired"}

	// ErrProviderUnavailable is returned when Mercado Pago answers with a non-2xx status.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrDecryption is returned when a stored secret fails authentication.
	ErrDecryption = errors.New("stored secret failed integrity check")

	// ErrUnresolvedCorrelation is returned when a webhook cannot be tied to an org and appointment.
	ErrUnresolvedCorrelation = errors.New("webhook could not be correlated")

	// ErrSlotUnavailable is returned when the requested booking slot is taken.
	ErrSlotUnavailable = errors.New("requested time slot is not available")

	// ErrBookingCoreUnavailable is returned when the booking core API fails.
	ErrBookingCoreUnavailable = errors.New("booking core unavailable")
)

// linkError keeps expired and not-found links distinguishable in logs while
// both still match ErrInvalidToken for callers.
type linkError struct {
	reason string
}

func (e *linkError) Error() string { return "booking link " + e.reason }

func (e *linkError) Is(target error) bool { return target == ErrInvalidToken }

// ServiceError wraps errors with additional context.
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(err error, message, code string) *ServiceError {
	return &ServiceError{Err: err, Message: message, Code: code}
}
