package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves "env://VARIABLE_NAME" references from the process
// environment. Used for API keys kept out of the config file.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable-based secret provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, credentialRef string) (*Secret, error) {
	name, ok := strings.CutPrefix(credentialRef, "env://")
	if !ok {
		return nil, fmt.Errorf("%w: not an env:// reference: %q", ErrSecretNotFound, credentialRef)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: env reference names no variable", ErrSecretNotFound)
	}
	value := os.Getenv(name)
	if value == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrSecretNotFound, name)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "env", "variable": name},
	}, nil
}
