package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier validates ID tokens from an OpenID provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

type oidcClaims struct {
	Email    string         `json:"email"`
	Role     string         `json:"role"`
	Name     string         `json:"name"`
	Picture  string         `json:"picture"`
	Metadata map[string]any `json:"user_metadata"`
}

// NewOIDCVerifier builds a verifier for issuer. When jwksURL is empty the
// provider's discovery document is fetched to locate the signing keys.
func NewOIDCVerifier(ctx context.Context, issuer, clientID, jwksURL string) (*OIDCVerifier, error) {
	if issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	cfg := &oidc.Config{ClientID: clientID, SkipClientIDCheck: clientID == ""}

	if jwksURL != "" {
		keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
		return NewOIDCVerifierWithKeySet(issuer, keySet, cfg), nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier over an explicit key set
func NewOIDCVerifierWithKeySet(issuer string, keySet oidc.KeySet, cfg *oidc.Config) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keySet, cfg)}
}

// Name implements Verifier
func (v *OIDCVerifier) Name() string { return "oidc" }

// Verify implements Verifier
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	token, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	var claims oidcClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ID token claims: %w", ErrInvalidCredential, err)
	}

	metadata := claims.Metadata
	if metadata == nil && (claims.Name != "" || claims.Picture != "") {
		metadata = map[string]any{}
		if claims.Name != "" {
			metadata["name"] = claims.Name
		}
		if claims.Picture != "" {
			metadata["picture"] = claims.Picture
		}
	}

	return &Identity{
		ID:       token.Subject,
		Email:    claims.Email,
		Role:     claims.Role,
		Metadata: metadata,
	}, nil
}
