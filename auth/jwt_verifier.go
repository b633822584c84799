package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by tokens from the external auth service
type Claims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens issued by the external auth service
type JWTVerifier struct {
	secret     []byte
	issuer     string
	audience   string
	algorithms []string
}

// NewJWTVerifier creates a verifier for tokens signed with secret. Empty issuer
// or audience disables that check. Algorithms defaults to HS256.
func NewJWTVerifier(secret, issuer, audience string, algorithms []string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodHS256.Alg()}
	}
	for _, alg := range algorithms {
		switch alg {
		case "HS256", "HS384", "HS512":
		default:
			return nil, fmt.Errorf("unsupported jwt algorithm: %s", alg)
		}
	}
	return &JWTVerifier{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		algorithms: algorithms,
	}, nil
}

// Name implements Verifier
func (v *JWTVerifier) Name() string { return "jwt" }

// Verify implements Verifier
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}

	return &Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Role:     claims.Role,
		Metadata: claims.UserMetadata,
	}, nil
}
