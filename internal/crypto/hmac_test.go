package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateHMACSignature(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		secret  string
	}{
		{"token claims", []byte(`{"sub":"u1","exp":1700000000}`), "local-secret"},
		{"empty payload", []byte{}, "local-secret"},
		{"unicode payload", []byte("héllo wörld"), "secret123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := GenerateHMACSignature(tt.payload, tt.secret)
			assert.True(t, strings.HasPrefix(sig, "sha256="))
			assert.Len(t, sig, 7+64)
			assert.Equal(t, sig, GenerateHMACSignature(tt.payload, tt.secret), "signature must be deterministic")
		})
	}
}

func TestVerifyHMACSignature(t *testing.T) {
	payload := []byte(`{"sub":"u1"}`)
	secret := "test-secret"
	valid := GenerateHMACSignature(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		expected  bool
	}{
		{"prefixed signature", payload, valid, secret, true},
		{"bare hex signature", payload, strings.TrimPrefix(valid, "sha256="), secret, true},
		{"wrong secret", payload, valid, "wrong-secret", false},
		{"tampered payload", []byte(`{"sub":"admin"}`), valid, secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, valid, "", false},
		{"garbage signature", payload, "sha256=deadbeef", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, VerifyHMACSignature(tt.payload, tt.signature, tt.secret))
		})
	}
}
