package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/compute/metadata"
	"github.com/ruteri/runtime-init/interfaces"
	"google.golang.org/api/option"
	"google.golang.org/api/secretmanager/v1"
)

// GCPOptions override the clients of the GCP provider.
type GCPOptions struct {
	// HTTPClient is used for metadata requests. The metadata host honours
	// GCE_METADATA_HOST.
	HTTPClient *http.Client
	// SecretManager are extra options for the Secret Manager client.
	SecretManager []option.ClientOption
}

// GCP reads secrets from Secret Manager and metadata from the GCE metadata server.
type GCP struct {
	Base
	log  *slog.Logger
	opts GCPOptions
	meta *metadata.Client

	mu      sync.Mutex
	secrets *secretmanager.Service
}

// NewGCP creates the provider.
func NewGCP(log *slog.Logger, opts GCPOptions) *GCP {
	return &GCP{
		log:  log,
		opts: opts,
		meta: metadata.NewClient(opts.HTTPClient),
	}
}

func (g *GCP) secretsService(ctx context.Context) (*secretmanager.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.secrets != nil {
		return g.secrets, nil
	}
	svc, err := secretmanager.NewService(ctx, g.opts.SecretManager...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	g.secrets = svc
	return svc, nil
}

// secretName expands a secret id into a version resource name. Ids that are
// already resource names are kept.
func (g *GCP) secretName(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	version := spec.Version
	if version == "" {
		version = "latest"
	}

	name := spec.SecretID
	if !strings.HasPrefix(name, "projects/") {
		project, err := g.meta.ProjectIDWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to determine project id: %w", err)
		}
		name = fmt.Sprintf("projects/%s/secrets/%s", project, name)
	}
	if !strings.Contains(name, "/versions/") {
		name += "/versions/" + version
	}
	return name, nil
}

// GetSecret accesses a Secret Manager secret version.
func (g *GCP) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	name, err := g.secretName(ctx, spec)
	if err != nil {
		return "", err
	}

	svc, err := g.secretsService(ctx)
	if err != nil {
		return "", err
	}

	resp, err := svc.Projects.Secrets.Versions.Access(name).Context(ctx).Do()
	if err != nil {
		g.log.Error("Failed to access secret version", slog.String("name", name), "err", err)
		return "", fmt.Errorf("failed to access %s: %w", name, err)
	}
	if resp.Payload == nil {
		return "", fmt.Errorf("secret %s has no payload", name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("invalid payload encoding for %s: %w", name, err)
	}
	if spec.Field != "" {
		return jsonField(string(data), spec.Field)
	}
	return string(data), nil
}

// GetMetadata reads instance metadata.
//
//   - compute: instance/<field>, e.g. "hostname" or "zone"
//   - network: instance/network-interfaces/<index>/<field>; "ip" yields the
//     address with the prefix length of the interface subnet mask
//   - uri:     the metadata path in value
func (g *GCP) GetMetadata(ctx context.Context, spec interfaces.MetadataProvider) (string, error) {
	switch spec.Type {
	case "compute":
		return g.get(ctx, "instance/"+spec.Field)
	case "uri":
		return g.get(ctx, strings.TrimPrefix(spec.Value, "/computeMetadata/v1/"))
	case "network":
		prefix := fmt.Sprintf("instance/network-interfaces/%d/", spec.Index)
		value, err := g.get(ctx, prefix+spec.Field)
		if err != nil || spec.Field != "ip" {
			return value, err
		}
		mask, err := g.get(ctx, prefix+"subnetmask")
		if err != nil {
			return "", err
		}
		ip := net.ParseIP(mask).To4()
		if ip == nil {
			return "", fmt.Errorf("invalid subnet mask %q", mask)
		}
		ones, _ := net.IPMask(ip).Size()
		return fmt.Sprintf("%s/%d", value, ones), nil
	default:
		return "", fmt.Errorf("unsupported metadata type %q", spec.Type)
	}
}

func (g *GCP) get(ctx context.Context, path string) (string, error) {
	value, err := g.meta.GetWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read instance metadata %s: %w", path, err)
	}
	return strings.TrimSpace(value), nil
}
