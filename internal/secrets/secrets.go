// Package secrets resolves credential references for API keys and tokens.
// Implementations are backend-specific (env vars, HashiCorp Vault).
// Credentials are resolved once during wiring and injected into client
// constructors; raw secret material never reaches task input, the
// collaborator, or sandboxed code.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Secret holds resolved credential material.
// This type MUST NOT be serialized to JSON or included in LLM responses.
type Secret struct {
	Value    string            // The raw secret value (password, SSH key, token).
	Metadata map[string]string // Backend-specific metadata (e.g., lease_id, version).
}

// Provider resolves opaque credential references into secret material.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve takes a credential reference (e.g., "env://MY_KEY" or "vault://ssh/prod")
	// and returns the raw secret. Returns ErrSecretNotFound if the reference cannot be resolved.
	Resolve(ctx context.Context, credentialRef string) (*Secret, error)

	// Name returns the provider identifier for logging (never includes secrets).
	Name() string
}

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = fmt.Errorf("secret not found")

// MaybeResolve resolves value through p when it carries a credential
// reference scheme ("env://" or "vault://"); plain values pass through
// unchanged. Config fields holding API keys accept either form.
func MaybeResolve(ctx context.Context, p Provider, value string) (string, error) {
	if value == "" || p == nil {
		return value, nil
	}
	if !strings.HasPrefix(value, "env://") && !strings.HasPrefix(value, "vault://") {
		return value, nil
	}
	secret, err := p.Resolve(ctx, value)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}
