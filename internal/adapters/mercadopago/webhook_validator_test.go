package mercadopago

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec-test"

func signFields(dataID, topic string) string {
	return calculateHMAC([]byte(buildManifest(dataID, topic)), testSecret)
}

func TestWebhookValidator_Verify(t *testing.T) {
	v := NewWebhookValidator(SchemeFields)
	body := []byte(`{"type":"payment","action":"payment.updated","data":{"id":"PAY1"}}`)
	good := "ts=1700000000,v1=" + signFields("PAY1", "payment")

	tests := []struct {
		name   string
		header string
		body   []byte
		secret string
		want   bool
	}{
		{"valid", good, body, testSecret, true},
		{"valid uppercase hex", "ts=1700000000,v1=" + strings.ToUpper(signFields("PAY1", "payment")), body, testSecret, true},
		{"segments reordered with spaces", " v1=" + signFields("PAY1", "payment") + " , ts=1 ", body, testSecret, true},
		{"numeric data id", "ts=1,v1=" + signFields("12345", "payment"), []byte(`{"type":"payment","data":{"id":12345}}`), testSecret, true},
		{"topic fallback", "ts=1,v1=" + signFields("PAY1", "payment"), []byte(`{"topic":"payment","data":{"id":"PAY1"}}`), testSecret, true},
		{"missing header", "", body, testSecret, false},
		{"missing secret", good, body, "", false},
		{"missing ts", "v1=" + signFields("PAY1", "payment"), body, testSecret, false},
		{"missing v1", "ts=1700000000", body, testSecret, false},
		{"garbage header", "not-a-signature", body, testSecret, false},
		{"wrong secret", good, body, "other", false},
		{"changed data id", good, []byte(`{"type":"payment","data":{"id":"PAY2"}}`), testSecret, false},
		{"changed topic", good, []byte(`{"type":"merchant_order","data":{"id":"PAY1"}}`), testSecret, false},
		{"missing data id", good, []byte(`{"type":"payment","data":{}}`), testSecret, false},
		{"missing topic", good, []byte(`{"data":{"id":"PAY1"}}`), testSecret, false},
		{"invalid json", good, []byte(`{`), testSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.header, tt.body, tt.secret))
		})
	}
}

func TestWebhookValidator_FlippedSignatureByte(t *testing.T) {
	v := NewWebhookValidator(SchemeFields)
	body := []byte(`{"type":"payment","data":{"id":"PAY1"}}`)
	sig := signFields("PAY1", "payment")
	require.True(t, v.Verify("ts=1,v1="+sig, body, testSecret))

	for i := range sig {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		assert.False(t, v.Verify("ts=1,v1="+string(b), body, testSecret), "position %d", i)
	}
}

func TestWebhookValidator_BodyScheme(t *testing.T) {
	v := NewWebhookValidator(SchemeBody)
	body := []byte(`{"type":"payment","data":{"id":"PAY1"}}`)

	header := v.Sign("1700000000", body, testSecret)
	assert.True(t, v.Verify(header, body, testSecret))

	// Same fields, different bytes.
	assert.False(t, v.Verify(header, []byte(`{"data":{"id":"PAY1"},"type":"payment"}`), testSecret))

	// A fields-scheme signature does not satisfy the body scheme.
	assert.False(t, v.Verify("ts=1,v1="+signFields("PAY1", "payment"), body, testSecret))
}

func TestParseSignatureScheme(t *testing.T) {
	assert.Equal(t, SchemeBody, ParseSignatureScheme(" BODY "))
	assert.Equal(t, SchemeFields, ParseSignatureScheme("fields"))
	assert.Equal(t, SchemeFields, ParseSignatureScheme(""))
	assert.Equal(t, SchemeFields, ParseSignatureScheme("unknown"))
}

func TestExtractSignedFields(t *testing.T) {
	id, topic, ok := ExtractSignedFields([]byte(`{"type":"payment","topic":"ignored","data":{"id":"9"}}`))
	require.True(t, ok)
	assert.Equal(t, "9", id)
	assert.Equal(t, "payment", topic)

	_, _, ok = ExtractSignedFields([]byte(`{"type":"payment","data":{"id":null}}`))
	assert.False(t, ok)
}
