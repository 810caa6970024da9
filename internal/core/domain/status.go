package domain

import "strings"

// PaymentStatus is the internal, closed set of payment states.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentApproved   PaymentStatus = "approved"
	PaymentRejected   PaymentStatus = "rejected"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentChargeback PaymentStatus = "chargeback"
)

// MapProviderStatus converts Mercado Pago's payment status vocabulary to the
// internal set. Unknown values map to PaymentPending, never to approved.
func MapProviderStatus(status string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return PaymentApproved
	case "pending", "in_process", "in_mediation", "authorized":
		return PaymentPending
	case "rejected":
		return PaymentRejected
	case "refunded":
		return PaymentRefunded
	case "cancelled":
		return PaymentCancelled
	case "charged_back", "chargeback":
		return PaymentChargeback
	default:
		return PaymentPending
	}
}

// ParsePaymentStatus reads a stored status value.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentApproved, PaymentRejected, PaymentRefunded, PaymentCancelled, PaymentChargeback:
		return st, true
	}
	return PaymentPending, false
}

// Terminal reports whether no further automatic transition is expected.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Reversal reports whether the status undoes a previously collected payment.
func (s PaymentStatus) Reversal() bool {
	return s == PaymentRefunded || s == PaymentChargeback
}
