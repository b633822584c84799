package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/ericfitz/collabd/internal/slogging"
)

// ChainVerifier tries each verifier in order and returns the first identity.
// External verifiers come first; the local token format is the fallback.
type ChainVerifier struct {
	verifiers []Verifier
}

// NewChainVerifier creates a chain; nil verifiers are skipped
func NewChainVerifier(verifiers ...Verifier) *ChainVerifier {
	chain := &ChainVerifier{}
	for _, v := range verifiers {
		if v != nil {
			chain.verifiers = append(chain.verifiers, v)
		}
	}
	return chain
}

// Name implements Verifier
func (c *ChainVerifier) Name() string {
	names := make([]string, len(c.verifiers))
	for i, v := range c.verifiers {
		names[i] = v.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Len returns the number of configured verifiers
func (c *ChainVerifier) Len() int { return len(c.verifiers) }

// Verify implements Verifier. When every verifier rejects the credential the
// result is ErrExpired if any of them recognized it as expired, otherwise
// ErrInvalidCredential.
func (c *ChainVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	logger := slogging.Get()
	var errs []error
	expired := false

	for _, v := range c.verifiers {
		identity, err := v.Verify(ctx, credential)
		if err == nil {
			logger.Debug("Credential accepted by %s verifier for user %s", v.Name(), identity.ID)
			return identity, nil
		}
		logger.Debug("Credential rejected by %s verifier: %v", v.Name(), err)
		if errors.Is(err, ErrExpired) {
			expired = true
		}
		errs = append(errs, err)
	}

	if expired {
		return nil, errors.Join(append([]error{ErrExpired}, errs...)...)
	}
	return nil, errors.Join(append([]error{ErrInvalidCredential}, errs...)...)
}
