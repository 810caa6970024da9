// Package mercadopago provides Mercado Pago webhook signature validation.
package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureScheme selects what the webhook HMAC is computed over.
type SignatureScheme string

const (
	// SchemeFields signs "id=<data.id>&topic=<type>", the provider contract.
	SchemeFields SignatureScheme = "fields"
	// SchemeBody signs the raw request body bytes.
	SchemeBody SignatureScheme = "body"
)

// ParseSignatureScheme falls back to SchemeFields for unknown values.
func ParseSignatureScheme(s string) SignatureScheme {
	if SignatureScheme(strings.ToLower(strings.TrimSpace(s))) == SchemeBody {
		return SchemeBody
	}
	return SchemeFields
}

// WebhookValidator validates Mercado Pago webhook signatures.
type WebhookValidator struct {
	scheme SignatureScheme
}

// NewWebhookValidator creates a new webhook validator.
func NewWebhookValidator(scheme SignatureScheme) *WebhookValidator {
	if scheme == "" {
		scheme = SchemeFields
	}
	return &WebhookValidator{scheme: scheme}
}

// Verify validates the X-Signature header against the raw request body.
//
// The header contains: ts=<timestamp>,v1=<signature>
// With SchemeFields the signature is HMAC-SHA256 of: id=<data.id>&topic=<type|topic>
// The fields are read from rawBody itself, never from a re-encoded copy.
func (v *WebhookValidator) Verify(signatureHeader string, rawBody []byte, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	ts, hash := parseSignatureHeader(signatureHeader)
	if ts == "" || hash == "" {
		return false
	}

	var message []byte
	switch v.scheme {
	case SchemeBody:
		if len(rawBody) == 0 {
			return false
		}
		message = rawBody
	default:
		dataID, topic, ok := ExtractSignedFields(rawBody)
		if !ok {
			return false
		}
		message = []byte(buildManifest(dataID, topic))
	}

	expectedHash := calculateHMAC(message, secret)

	// Compare signatures (constant-time comparison)
	return hmac.Equal([]byte(strings.ToLower(hash)), []byte(expectedHash))
}

// Sign returns the header value a sender would attach for rawBody. Used by
// tests and the local webhook replay tooling.
func (v *WebhookValidator) Sign(ts string, rawBody []byte, secret string) string {
	message := rawBody
	if v.scheme != SchemeBody {
		dataID, topic, _ := ExtractSignedFields(rawBody)
		message = []byte(buildManifest(dataID, topic))
	}
	return "ts=" + ts + ",v1=" + calculateHMAC(message, secret)
}

// parseSignatureHeader extracts ts and v1 values from the signature header.
// Segments may come in any order and carry surrounding whitespace.
func parseSignatureHeader(header string) (ts, hash string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			hash = strings.TrimSpace(value)
		}
	}
	return ts, hash
}

// signedFields is the subset of the notification body that is signed.
type signedFields struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ExtractSignedFields reads data.id and type (falling back to topic) from a
// notification body. data.id may be a JSON string or number.
func ExtractSignedFields(rawBody []byte) (dataID, topic string, ok bool) {
	var body signedFields
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return "", "", false
	}

	topic = body.Type
	if topic == "" {
		topic = body.Topic
	}
	dataID = rawID(body.Data.ID)
	if dataID == "" || topic == "" {
		return "", "", false
	}
	return dataID, topic, true
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// buildManifest constructs the string to be signed.
func buildManifest(dataID, topic string) string {
	return "id=" + dataID + "&topic=" + topic
}

// calculateHMAC computes HMAC-SHA256 of the message as lowercase hex.
func calculateHMAC(message []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}
