package interfaces

import "context"

// CloudClient is the capability set of a cloud provider.
// The orchestrator only ever calls providers through this interface.
type CloudClient interface {
	// GetSecret returns the secret described by spec.
	GetSecret(ctx context.Context, spec SecretProvider) (string, error)

	// GetMetadata returns the instance metadata value described by spec.
	GetMetadata(ctx context.Context, spec MetadataProvider) (string, error)
}
