package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Verification failures. Verifiers wrap these so callers can use errors.Is.
var (
	ErrMissingCredential = errors.New("credential missing")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpired           = errors.New("credential expired")
)

// Identity is the verified user behind a connection
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Role     string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Verifier maps an opaque credential to an identity
type Verifier interface {
	// Name identifies the verifier in logs and metrics
	Name() string
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// ExtractToken returns the credential presented on a handshake request. The
// token query parameter wins over an Authorization bearer header because
// browsers cannot set headers on WebSocket upgrades.
func ExtractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
