package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PaymentSignature is the checkout signature: hex HMAC-SHA256 of "orderID|paymentID".
func PaymentSignature(secret, orderID, paymentID string) string {
	return sign(secret, []byte(orderID+"|"+paymentID))
}

// VerifyPaymentSignature compares a checkout signature in constant time.
func VerifyPaymentSignature(secret, orderID, paymentID, signature string) bool {
	return equalHex(PaymentSignature(secret, orderID, paymentID), signature)
}

// WebhookSignature is the hex HMAC-SHA256 of a raw webhook body.
func WebhookSignature(secret string, body []byte) string {
	return sign(secret, body)
}

// VerifyWebhookSignature checks the signature header against the raw body.
// The body must be the exact bytes received; re-encoded JSON will not match.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equalHex(WebhookSignature(secret, body), signature)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
