package gateway

import "testing"

func TestPaymentSignature(t *testing.T) {
	const secret = "test_secret"
	sig := PaymentSignature(secret, "order_1", "pay_1")

	tests := []struct {
		name               string
		orderID, paymentID string
		signature          string
		want               bool
	}{
		{"valid", "order_1", "pay_1", sig, true},
		{"swapped ids", "pay_1", "order_1", sig, false},
		{"wrong payment", "order_1", "pay_2", sig, false},
		{"tampered", "order_1", "pay_1", "x" + sig[1:], false},
		{"empty signature", "order_1", "pay_1", "", false},
		{"uppercase hex", "order_1", "pay_1", "ABC", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPaymentSignature(secret, tt.orderID, tt.paymentID, tt.signature); got != tt.want {
				t.Fatalf("VerifyPaymentSignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaymentSignatureKnownVector(t *testing.T) {
	// echo -n "order_1|pay_1" | openssl dgst -sha256 -hmac secret
	const want = "52115a0d3400de9e86aade1f1b6eba9e8974604f4e267a9e9a16633a4c8dd2cb"
	got := PaymentSignature("secret", "order_1", "pay_1")
	if got != want {
		t.Fatalf("PaymentSignature = %s, want %s", got, want)
	}
	if got == PaymentSignature("other", "order_1", "pay_1") {
		t.Fatal("signature must depend on the secret")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","event":"payment.captured"}`)
	sig := WebhookSignature("whsec", body)

	if !VerifyWebhookSignature("whsec", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyWebhookSignature("whsec", append([]byte(" "), body...), sig) {
		t.Fatal("signature over different bytes accepted")
	}
	if VerifyWebhookSignature("", body, WebhookSignature("", body)) {
		t.Fatal("empty secret must never verify")
	}
	if VerifyWebhookSignature("whsec", body, "") {
		t.Fatal("missing header must not verify")
	}
}
