package secrets

import (
	"context"
	"errors"
	"fmt"
)

// CompositeProvider tries each backend in order; the first successful
// resolution wins. Failed attempts are collected so the returned error
// names every backend that was asked.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a provider that delegates to the given
// backends in order.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	return &CompositeProvider{providers: providers}
}

func (p *CompositeProvider) Name() string { return "composite" }

func (p *CompositeProvider) Resolve(ctx context.Context, credentialRef string) (*Secret, error) {
	var errs []error
	for _, provider := range p.providers {
		secret, err := provider.Resolve(ctx, credentialRef)
		if err == nil {
			return secret, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", ErrSecretNotFound)
	}
	return nil, errors.Join(errs...)
}
