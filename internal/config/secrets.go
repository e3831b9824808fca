package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretUnset = errors.New("secret is empty")

// ResolveSecret expands env:NAME and file:PATH references. Plain values are
// returned trimmed.
func ResolveSecret(value string) (string, error) {
	value = strings.TrimSpace(value)
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		secret := strings.TrimSpace(os.Getenv(name))
		if secret == "" {
			return "", fmt.Errorf("env %s: %w", name, ErrSecretUnset)
		}
		return secret, nil
	}
	if path, ok := strings.CutPrefix(value, "file:"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("secret file: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("file %s: %w", path, ErrSecretUnset)
		}
		return secret, nil
	}
	return value, nil
}

// resolveSecrets expands the push endpoints, which may carry credentials in
// their userinfo, and the API tokens when security is enabled.
func resolveSecrets(cfg *Config) error {
	type field struct {
		key   string
		value *string
	}
	fields := []field{
		{"logging.loki_url", &cfg.Logging.LokiURL},
		{"logging.elastic_url", &cfg.Logging.ElasticURL},
		{"metrics.export.remote_write_url", &cfg.Metrics.Export.RemoteWriteURL},
	}
	for i := range cfg.API.Security.Tokens {
		if !cfg.API.Security.Enabled {
			break
		}
		fields = append(fields, field{fmt.Sprintf("api.security.tokens[%d].value", i), &cfg.API.Security.Tokens[i].Value})
	}
	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		resolved, err := ResolveSecret(*f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = resolved
	}
	return nil
}
