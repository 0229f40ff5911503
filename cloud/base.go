package cloud

import (
	"context"
	"fmt"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
)

// Base answers every request with interfaces.ErrNotImplemented.
type Base struct{}

// GetSecret is not implemented.
func (Base) GetSecret(_ context.Context, spec interfaces.SecretProvider) (string, error) {
	return "", fmt.Errorf("%w: secrets for environment %q", interfaces.ErrNotImplemented, spec.Environment)
}

// GetMetadata is not implemented.
func (Base) GetMetadata(_ context.Context, spec interfaces.MetadataProvider) (string, error) {
	return "", fmt.Errorf("%w: metadata for environment %q", interfaces.ErrNotImplemented, spec.Environment)
}

// Loader fetches raw content by location. *resolver.Resolver implements it.
type Loader interface {
	LoadBytes(ctx context.Context, uri string, opts resolver.Options) ([]byte, error)
}
