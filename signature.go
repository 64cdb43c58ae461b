package membership

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// resetTokenBytes is the entropy of a reset token cleartext, 160 bits.
const resetTokenBytes = 20

// ComputePaymentSignature builds the HMAC-SHA256 hex digest the billing
// provider sends alongside a payment callback. The signed message is
// "<paymentID>|<subscriptionID>".
func ComputePaymentSignature(secret []byte, paymentID, subscriptionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(paymentID + "|" + subscriptionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature recomputes the callback signature and compares it in
// constant time. The expected value is never returned to callers.
func VerifyPaymentSignature(secret []byte, paymentID, subscriptionID, signature string) bool {
	expected := ComputePaymentSignature(secret, paymentID, subscriptionID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateResetToken returns the cleartext token handed to the user and the
// SHA-256 hex digest we persist. Only the digest ever touches storage.
func GenerateResetToken() (cleartext string, digest string, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}

	cleartext = hex.EncodeToString(buf)
	return cleartext, HashResetToken(cleartext), nil
}

// HashResetToken maps a cleartext reset token to its stored digest.
func HashResetToken(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}
