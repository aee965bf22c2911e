package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const vaultResponseLimit = 1 << 20

// VaultProvider resolves credential references against HashiCorp Vault KV v2.
//
// Reference format: "vault://secret/data/nextvibe/providers#anthropic"
//   - the path after vault:// is the full KV v2 API path
//   - the optional #field selects one key; without it the whole data map is
//     returned as JSON
//
// Authentication is token-based (VAULT_TOKEN). Safe for concurrent use.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a Vault KV v2 secret provider. Config keys
// (address, token, namespace, timeout, tls_skip_verify) seed the client;
// the VAULT_ADDR, VAULT_TOKEN, and VAULT_NAMESPACE environment variables
// take precedence, so a nil map works in env-driven deployments.
func NewVaultProvider(cfg map[string]string) (*VaultProvider, error) {
	pick := func(key, envVar string) string {
		if env := os.Getenv(envVar); env != "" {
			return env
		}
		return cfg[key]
	}

	address := strings.TrimRight(pick("address", "VAULT_ADDR"), "/")
	if address == "" {
		return nil, fmt.Errorf("vault address is required (config key 'address' or VAULT_ADDR)")
	}
	token := pick("token", "VAULT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("vault token is required (config key 'token' or VAULT_TOKEN)")
	}

	timeout := 5 * time.Second
	if t := cfg["timeout"]; t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid vault timeout %q: %w", t, err)
		}
		timeout = d
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg["tls_skip_verify"] == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   address,
		token:     token,
		namespace: pick("namespace", "VAULT_NAMESPACE"),
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, credentialRef string) (*Secret, error) {
	path, field, err := parseVaultRef(credentialRef)
	if err != nil {
		return nil, err
	}

	data, err := p.readSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"source": "vault", "path": path}

	if field != "" {
		metadata["field"] = field
		val, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found at vault path %q",
				ErrSecretNotFound, field, path)
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("vault field %q at path %q is not a string", field, path)
		}
		return &Secret{Value: str, Metadata: metadata}, nil
	}

	// No selector: the whole data map, as JSON.
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling vault data: %w", err)
	}
	return &Secret{Value: string(jsonBytes), Metadata: metadata}, nil
}

// parseVaultRef splits "vault://<path>#<field>" into path and optional field.
func parseVaultRef(credentialRef string) (path, field string, err error) {
	raw, ok := strings.CutPrefix(credentialRef, "vault://")
	if !ok {
		return "", "", fmt.Errorf("%w: not a vault:// reference: %q", ErrSecretNotFound, credentialRef)
	}
	path, field, _ = strings.Cut(raw, "#")
	if path == "" {
		return "", "", fmt.Errorf("%w: vault reference names no path", ErrSecretNotFound)
	}
	return path, field, nil
}

// readSecret fetches and unwraps the KV v2 response envelope
// ({"data":{"data":{...}}}).
func (p *VaultProvider) readSecret(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, vaultResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}
