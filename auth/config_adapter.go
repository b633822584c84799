package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfitz/collabd/internal/config"
	"github.com/ericfitz/collabd/internal/slogging"
)

// NewVerifierFromConfig builds the handshake verifier chain in the order
// jwt, oidc, local token
func NewVerifierFromConfig(ctx context.Context, cfg config.AuthConfig) (*ChainVerifier, error) {
	logger := slogging.Get()
	var verifiers []Verifier

	if cfg.JWT.Enabled {
		v, err := NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.Algorithms)
		if err != nil {
			return nil, fmt.Errorf("failed to configure jwt verifier: %w", err)
		}
		verifiers = append(verifiers, v)
	}

	if cfg.OIDC.Enabled {
		v, err := NewOIDCVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure oidc verifier: %w", err)
		}
		verifiers = append(verifiers, v)
	}

	if cfg.LocalToken.Enabled {
		v, err := NewLocalTokenVerifier(cfg.LocalToken.Secret, cfg.LocalToken.AllowUnsigned)
		if err != nil {
			return nil, fmt.Errorf("failed to configure local token verifier: %w", err)
		}
		if cfg.LocalToken.AllowUnsigned {
			logger.Warn("Unsigned local tokens are accepted; do not use this setting in production")
		}
		verifiers = append(verifiers, v)
	}

	if len(verifiers) == 0 {
		return nil, errors.New("no identity verifiers configured")
	}

	chain := NewChainVerifier(verifiers...)
	logger.Info("Identity verification chain: %s", chain.Name())
	return chain, nil
}
