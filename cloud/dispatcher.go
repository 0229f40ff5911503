package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/runtime-init/interfaces"
)

// Factory constructs a provider.
type Factory func() (interfaces.CloudClient, error)

// Dispatcher selects a provider by environment and builds it on first use.
type Dispatcher struct {
	log *slog.Logger

	mu        sync.Mutex
	loader    Loader
	factories map[string]Factory
	providers map[string]interfaces.CloudClient
}

// NewDispatcher returns a dispatcher with the aws, gcp, azure and hashicorp
// providers registered.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		log:       log,
		factories: make(map[string]Factory),
		providers: make(map[string]interfaces.CloudClient),
	}

	d.Register("aws", func() (interfaces.CloudClient, error) {
		return NewAWS(log, AWSOptions{})
	})
	d.Register("gcp", func() (interfaces.CloudClient, error) {
		return NewGCP(log, GCPOptions{}), nil
	})
	d.Register("azure", func() (interfaces.CloudClient, error) {
		return NewAzure(log, AzureOptions{}), nil
	})
	d.Register("hashicorp", func() (interfaces.CloudClient, error) {
		return NewVault(log, d.currentLoader()), nil
	})
	return d
}

// SetLoader sets the loader used to read credentials stored at locations,
// such as Vault AppRole ids.
func (d *Dispatcher) SetLoader(loader Loader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loader = loader
}

func (d *Dispatcher) currentLoader() Loader {
	// Called from a factory with d.mu held.
	return d.loader
}

// Register sets the factory of environment, replacing any cached provider.
func (d *Dispatcher) Register(environment string, factory Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	environment = strings.ToLower(environment)
	d.factories[environment] = factory
	delete(d.providers, environment)
}

// Provider returns the provider of environment, constructing it if needed.
func (d *Dispatcher) Provider(environment string) (interfaces.CloudClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	environment = strings.ToLower(environment)
	if p, ok := d.providers[environment]; ok {
		return p, nil
	}

	factory, ok := d.factories[environment]
	if !ok {
		return nil, fmt.Errorf("unsupported cloud environment %q", environment)
	}
	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", environment, err)
	}

	d.log.Debug("Created cloud provider", slog.String("environment", environment))
	d.providers[environment] = p
	return p, nil
}

// GetSecret implements interfaces.CloudClient.
func (d *Dispatcher) GetSecret(ctx context.Context, spec interfaces.SecretProvider) (string, error) {
	p, err := d.Provider(spec.Environment)
	if err != nil {
		return "", err
	}
	return p.GetSecret(ctx, spec)
}

// GetMetadata implements interfaces.CloudClient.
func (d *Dispatcher) GetMetadata(ctx context.Context, spec interfaces.MetadataProvider) (string, error) {
	p, err := d.Provider(spec.Environment)
	if err != nil {
		return "", err
	}
	return p.GetMetadata(ctx, spec)
}
