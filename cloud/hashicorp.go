package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
)

// Vault reads secrets from a HashiCorp Vault KV engine.
type Vault struct {
	Base
	log    *slog.Logger
	loader Loader
}

// NewVault creates the provider. loader reads AppRole credentials stored at
// locations; it may be nil when they are given inline.
func NewVault(log *slog.Logger, loader Loader) *Vault {
	return &Vault{log: log, loader: loader}
}

func (v *Vault) client(ctx context.Context, spec interfaces.SecretProvider) (*api.Client, error) {
	if spec.VaultServer == "" {
		return nil, fmt.Errorf("vault secret %s requires vaultServer", spec.SecretPath)
	}

	config := api.DefaultConfig()
	config.Address = spec.VaultServer
	config.Timeout = resolver.DefaultTimeout

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if spec.AppRole != nil {
		if err := v.login(ctx, client, spec.AppRole); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func (v *Vault) login(ctx context.Context, client *api.Client, role *interfaces.AppRole) error {
	roleID, err := v.value(ctx, role.RoleID)
	if err != nil {
		return fmt.Errorf("failed to read AppRole role id: %w", err)
	}
	secretID, err := v.value(ctx, role.SecretID)
	if err != nil {
		return fmt.Errorf("failed to read AppRole secret id: %w", err)
	}

	mount := strings.Trim(role.Path, "/")
	if mount == "" {
		mount = "approle"
	}

	start := time.Now()
	secret, err := client.Logical().WriteWithContext(ctx, "auth/"+mount+"/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		v.log.Error("Vault AppRole login failed", slog.String("mount", mount), "err", err)
		return fmt.Errorf("vault login failed: %w", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return fmt.Errorf("vault login returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	v.log.Debug("Logged in to Vault", slog.String("mount", mount), slog.Duration("duration", time.Since(start)))
	return nil
}

// value returns an inline value or loads it from its location.
func (v *Vault) value(ctx context.Context, loc interfaces.ValueLocation) (string, error) {
	switch loc.Type {
	case "", "inline":
		return loc.Value, nil
	case "url":
		if v.loader == nil {
			return "", fmt.Errorf("no loader for location %s", loc.Value)
		}
		data, err := v.loader.LoadBytes(ctx, loc.Value, resolver.Options{})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported value type %q", loc.Type)
	}
}

// GetSecret reads secretPath (falling back to secretId) from the engine
// named by secretsEngine: "kv2" (default) or "kv". The first path segment is
// the engine mount.
func (v *Vault) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	path := strings.Trim(spec.SecretPath, "/")
	if path == "" {
		path = strings.Trim(spec.SecretID, "/")
	}
	if path == "" {
		return "", fmt.Errorf("vault secret requires secretPath")
	}

	client, err := v.client(ctx, spec)
	if err != nil {
		return "", err
	}

	start := time.Now()
	var data map[string]interface{}

	switch strings.ToLower(spec.SecretsEngine) {
	case "", "kv2":
		mount, rest, found := strings.Cut(path, "/")
		if !found {
			return "", fmt.Errorf("vault kv2 path %q must include the mount", path)
		}
		readPath := mount + "/data/" + rest

		var params map[string][]string
		if spec.Version != "" {
			params = map[string][]string{"version": {spec.Version}}
		}
		secret, err := client.Logical().ReadWithDataWithContext(ctx, readPath, params)
		if err != nil {
			return "", v.readError(readPath, err)
		}
		if secret == nil || secret.Data == nil {
			return "", fmt.Errorf("vault secret %s not found", path)
		}
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("invalid data format in Vault response for %s", path)
		}
		data = inner
	case "kv", "kv1":
		secret, err := client.Logical().ReadWithContext(ctx, path)
		if err != nil {
			return "", v.readError(path, err)
		}
		if secret == nil || secret.Data == nil {
			return "", fmt.Errorf("vault secret %s not found", path)
		}
		data = secret.Data
	default:
		return "", fmt.Errorf("unsupported secrets engine %q", spec.SecretsEngine)
	}

	v.log.Debug("Read secret from Vault", slog.String("path", path), slog.Duration("duration", time.Since(start)))
	return selectField(data, spec.Field, path)
}

func (v *Vault) readError(path string, err error) error {
	v.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
	return fmt.Errorf("failed to read %s from Vault: %w", path, err)
}

// selectField returns data[field]. Without a field a single-key secret
// yields its value and anything else is returned as JSON.
func selectField(data map[string]interface{}, field, path string) (string, error) {
	if field == "" && len(data) == 1 {
		for k := range data {
			field = k
		}
	}
	if field == "" {
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}

	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no field %q", path, field)
	}
	return resolver.Stringify(value)
}
