package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader 金流 webhook 的簽章 header
const SignatureHeader = "X-Payment-Signature"

// PaymentSignature 金流閘道對 "order_id|payment_id" 的 HMAC-SHA256 (hex)
func PaymentSignature(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyPaymentSignature(secret []byte, orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(PaymentSignature(secret, orderID, paymentID))
	return hmac.Equal(got, want)
}
