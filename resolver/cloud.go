package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ruteri/runtime-init/interfaces"
)

// loadCloud dispatches a cloud location to the cloud client. The parameter
// type decides whether the secret store or the metadata service is queried.
func (r *Resolver) loadCloud(ctx context.Context, u *url.URL, opts Options) (any, error) {
	if r.cloud == nil {
		return nil, errors.New("no cloud client configured for location " + u.Scheme + "://")
	}

	switch opts.ParameterType {
	case interfaces.ParameterSecret:
		if opts.Secret == nil {
			return nil, fmt.Errorf("secret location %s requires a secret provider", u.String())
		}
		return r.cloud.GetSecret(ctx, *opts.Secret)
	case interfaces.ParameterMetadata:
		if opts.Metadata == nil {
			return nil, fmt.Errorf("metadata location %s requires a metadata provider", u.String())
		}
		return r.cloud.GetMetadata(ctx, *opts.Metadata)
	default:
		return nil, fmt.Errorf("cloud location %s requires a secret or metadata parameter type", u.String())
	}
}
