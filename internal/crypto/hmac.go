package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// GenerateHMACSignature returns the hex HMAC-SHA256 of payload in the form
// "sha256=<hex>".
func GenerateHMACSignature(payload []byte, secret string) string {
	return signaturePrefix + hmacHex(payload, secret)
}

// VerifyHMACSignature checks a signature in either "sha256=<hex>" or bare hex
// form using constant-time comparison.
func VerifyHMACSignature(payload []byte, signature string, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := hmacHex(payload, secret)
	return hmac.Equal([]byte(strings.TrimPrefix(signature, signaturePrefix)), []byte(expected))
}

func hmacHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
