package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfitz/collabd/internal/crypto"
)

// expiries above this are taken to be Unix milliseconds
const millisecondThreshold = 1_000_000_000_000

// LocalTokenPayload is the JSON body of a locally issued token
type LocalTokenPayload struct {
	Sub      string         `json:"sub"`
	Email    string         `json:"email"`
	Role     string         `json:"role,omitempty"`
	Exp      int64          `json:"exp"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExpiresAt returns the expiry, accepting either seconds or milliseconds
func (p LocalTokenPayload) ExpiresAt() time.Time {
	if p.Exp > millisecondThreshold {
		return time.UnixMilli(p.Exp)
	}
	return time.Unix(p.Exp, 0)
}

// LocalTokenVerifier validates the fallback token format:
// base64url(JSON payload), optionally followed by "." and a hex HMAC-SHA256 of
// the encoded payload.
type LocalTokenVerifier struct {
	secret        string
	allowUnsigned bool
	now           func() time.Time
}

// NewLocalTokenVerifier creates a local token verifier. A secret is required
// unless unsigned tokens are allowed.
func NewLocalTokenVerifier(secret string, allowUnsigned bool) (*LocalTokenVerifier, error) {
	if secret == "" && !allowUnsigned {
		return nil, errors.New("local token secret is required unless unsigned tokens are allowed")
	}
	return &LocalTokenVerifier{secret: secret, allowUnsigned: allowUnsigned, now: time.Now}, nil
}

// Name implements Verifier
func (v *LocalTokenVerifier) Name() string { return "local" }

// Verify implements Verifier
func (v *LocalTokenVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	encoded, signature, signed := strings.Cut(credential, ".")
	if strings.Contains(signature, ".") {
		return nil, fmt.Errorf("%w: unexpected token segments", ErrInvalidCredential)
	}

	switch {
	case signed && v.secret != "":
		if !crypto.VerifyHMACSignature([]byte(encoded), signature, v.secret) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidCredential)
		}
	case !v.allowUnsigned:
		return nil, fmt.Errorf("%w: token is not signed", ErrInvalidCredential)
	}

	raw, err := decodeSegment(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	var payload LocalTokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %w", ErrInvalidCredential, err)
	}
	if payload.Sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}
	if payload.Exp <= 0 {
		return nil, fmt.Errorf("%w: token has no expiry", ErrInvalidCredential)
	}
	if !v.now().Before(payload.ExpiresAt()) {
		return nil, fmt.Errorf("%w: local token expired at %s", ErrExpired, payload.ExpiresAt().UTC().Format(time.RFC3339))
	}

	return &Identity{
		ID:       payload.Sub,
		Email:    payload.Email,
		Role:     payload.Role,
		Metadata: payload.Metadata,
	}, nil
}

// IssueLocalToken encodes payload and signs it when secret is non-empty
func IssueLocalToken(payload LocalTokenPayload, secret string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal local token payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	if secret == "" {
		return encoded, nil
	}
	return encoded + "." + strings.TrimPrefix(crypto.GenerateHMACSignature([]byte(encoded), secret), "sha256="), nil
}

// decodeSegment accepts URL-safe or standard base64, padded or not
func decodeSegment(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, errors.New("payload is not valid base64")
}
