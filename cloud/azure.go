package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
)

const (
	azureIMDSEndpoint     = "http://169.254.169.254"
	azureIMDSVersion      = "2021-02-01"
	azureTokenVersion     = "2018-02-01"
	azureKeyVaultResource = "https://vault.azure.net"
	azureKeyVaultVersion  = "7.4"
)

// AzureOptions override the endpoints of the Azure provider.
type AzureOptions struct {
	IMDSEndpoint string
	Timeout      time.Duration
}

// Azure reads secrets from Key Vault with a managed identity token and
// metadata from the instance metadata service.
type Azure struct {
	Base
	log        *slog.Logger
	imds       string
	httpClient *http.Client
}

// NewAzure creates the provider.
func NewAzure(log *slog.Logger, opts AzureOptions) *Azure {
	if opts.IMDSEndpoint == "" {
		opts.IMDSEndpoint = azureIMDSEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = resolver.DefaultTimeout
	}
	return &Azure{
		log:        log,
		imds:       strings.TrimSuffix(opts.IMDSEndpoint, "/"),
		httpClient: resolver.NewHTTPClient(opts.Timeout, false),
	}
}

func (a *Azure) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &interfaces.TransportError{Op: "GET", URL: req.URL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &interfaces.TransportError{Op: "GET", URL: req.URL.Redacted(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &interfaces.ApplicationError{Method: "GET", URL: req.URL.Redacted(), Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(body)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func (a *Azure) token(ctx context.Context, resource string) (string, error) {
	q := url.Values{}
	q.Set("api-version", azureTokenVersion)
	q.Set("resource", resource)

	var token struct {
		AccessToken string `json:"access_token"`
	}
	err := a.getJSON(ctx, a.imds+"/metadata/identity/oauth2/token?"+q.Encode(), map[string]string{"Metadata": "true"}, &token)
	if err != nil {
		return "", fmt.Errorf("failed to get managed identity token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("managed identity token response has no access_token")
	}
	return token.AccessToken, nil
}

// GetSecret reads a Key Vault secret. spec.VaultURL is the vault base URL,
// e.g. https://myvault.vault.azure.net.
func (a *Azure) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	if spec.VaultURL == "" {
		return "", fmt.Errorf("azure secret %s requires vaultUrl", spec.SecretID)
	}

	token, err := a.token(ctx, azureKeyVaultResource)
	if err != nil {
		return "", err
	}

	secretURL := strings.TrimSuffix(spec.VaultURL, "/") + "/secrets/" + url.PathEscape(spec.SecretID)
	if spec.Version != "" {
		secretURL += "/" + url.PathEscape(spec.Version)
	}
	secretURL += "?api-version=" + azureKeyVaultVersion

	var secret struct {
		Value string `json:"value"`
	}
	if err := a.getJSON(ctx, secretURL, map[string]string{"Authorization": "Bearer " + token}, &secret); err != nil {
		a.log.Error("Failed to read secret from Key Vault", slog.String("secret", spec.SecretID), "err", err)
		return "", fmt.Errorf("failed to get secret %s: %w", spec.SecretID, err)
	}
	if spec.Field != "" {
		return jsonField(secret.Value, spec.Field)
	}
	return secret.Value, nil
}

// GetMetadata reads instance metadata.
//
//   - compute: compute.<field> of the instance document, e.g. "name"
//   - network: <field> of interface index; "ipv4" yields the first private
//     address with the subnet prefix length
//   - uri:     the IMDS path in value, returned as text
func (a *Azure) GetMetadata(ctx context.Context, spec interfaces.MetadataProvider) (string, error) {
	headers := map[string]string{"Metadata": "true"}

	if spec.Type == "uri" {
		var body string
		if err := a.getJSON(ctx, a.imds+spec.Value, headers, &body); err != nil {
			return "", err
		}
		return strings.TrimSpace(body), nil
	}

	var doc any
	if err := a.getJSON(ctx, a.imds+"/metadata/instance?api-version="+azureIMDSVersion, headers, &doc); err != nil {
		return "", fmt.Errorf("failed to read instance metadata: %w", err)
	}

	var expression string
	switch spec.Type {
	case "compute":
		expression = "compute." + spec.Field
	case "network":
		nic := fmt.Sprintf("network.interface[%d]", spec.Index)
		if spec.Field == "ipv4" {
			expression = fmt.Sprintf("join('/', [%s.ipv4.ipAddress[0].privateIpAddress, %s.ipv4.subnet[0].prefix])", nic, nic)
		} else {
			expression = nic + "." + spec.Field
		}
	default:
		return "", fmt.Errorf("unsupported metadata type %q", spec.Type)
	}

	result, err := jmespath.Search(expression, doc)
	if err != nil {
		return "", fmt.Errorf("invalid metadata field %q: %w", spec.Field, err)
	}
	if result == nil {
		return "", fmt.Errorf("metadata field %q not found", spec.Field)
	}
	return resolver.Stringify(result)
}
