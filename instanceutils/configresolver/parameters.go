package configresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
	"github.com/ruteri/runtime-init/retry"
)

// Loader fetches content by location URI. *resolver.Resolver implements it.
type Loader interface {
	Load(ctx context.Context, uri string, opts resolver.Options) (any, error)
}

// ResolveParameters resolves runtime parameters in declaration order.
// Every url, secret and metadata parameter is loaded under policy; the first
// parameter that still fails aborts resolution.
//
// Parameters:
//   - ctx: Context for all loads
//   - log: Structured logger
//   - specs: Declared runtime parameters
//   - loader: Location resolver
//   - policy: Retry policy applied to each load
//
// Returns:
//   - Ordered name to value mapping
//   - Error naming the parameter that could not be resolved
func ResolveParameters(ctx context.Context, log *slog.Logger, specs []interfaces.RuntimeParameter, loader Loader, policy retry.Policy) (*interfaces.Parameters, error) {
	params := interfaces.NewParameters()

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("runtime parameter without a name (type %q)", spec.Type)
		}

		start := time.Now()
		value, err := resolveParameter(ctx, spec, loader, policy.With(log, "parameter "+spec.Name))
		if err != nil {
			log.Error("Failed to resolve runtime parameter", slog.String("name", spec.Name), slog.String("type", string(spec.Type)), "err", err)
			return nil, fmt.Errorf("runtime parameter %s: %w", spec.Name, err)
		}

		if err := params.Set(spec.Name, value, spec.Type == interfaces.ParameterSecret); err != nil {
			return nil, err
		}

		log.Debug("Resolved runtime parameter",
			slog.String("name", spec.Name),
			slog.String("type", string(spec.Type)),
			slog.Duration("duration", time.Since(start)))
	}

	log.Info("Resolved runtime parameters", slog.Int("count", params.Len()))
	return params, nil
}

func resolveParameter(ctx context.Context, spec interfaces.RuntimeParameter, loader Loader, policy retry.Policy) (string, error) {
	var value string

	if spec.Type == interfaces.ParameterStatic {
		value = spec.Value
	} else {
		location, err := spec.Location()
		if err != nil {
			return "", err
		}

		opts := resolver.Options{
			SkipTLSVerify: !interfaces.BoolOr(spec.VerifyTLS, true),
			ParameterType: spec.Type,
			Secret:        spec.SecretProvider,
			Metadata:      spec.MetadataProvider,
		}
		if len(spec.Headers) > 0 {
			opts.Headers = make(map[string]string, len(spec.Headers))
			for _, h := range spec.Headers {
				opts.Headers[h.Name] = h.Value
			}
		}

		content, err := retry.Do(ctx, policy, func(ctx context.Context) (any, error) {
			return load(ctx, loader, location, opts)
		})
		if err != nil {
			return "", err
		}

		if spec.Query != "" {
			content, err = Query(spec.Query, content)
			if err != nil {
				return "", err
			}
		}

		value, err = resolver.Stringify(content)
		if err != nil {
			return "", err
		}
	}

	if spec.IPCalc != "" {
		return IPCalc(value, spec.IPCalc)
	}
	return value, nil
}

// load unwraps HTTP responses so that a non-2xx status is retried like a
// network failure.
func load(ctx context.Context, loader Loader, location string, opts resolver.Options) (any, error) {
	content, err := loader.Load(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	if resp, ok := content.(*resolver.HTTPResponse); ok {
		if resp.Code < 200 || resp.Code > 299 {
			body, _ := resolver.Stringify(resp.Body)
			return nil, &interfaces.ApplicationError{Method: "GET", URL: location, Status: resp.Code, Body: body}
		}
		return resp.Body, nil
	}
	return content, nil
}

// Query evaluates a JMESPath expression against loaded content. String
// content is decoded as JSON first.
func Query(expression string, content any) (any, error) {
	if text, ok := content.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &decoded); err != nil {
			return nil, fmt.Errorf("query %q needs JSON content: %w", expression, err)
		}
		content = decoded
	}

	result, err := jmespath.Search(expression, content)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", expression, err)
	}
	if result == nil {
		return nil, fmt.Errorf("query %q matched nothing", expression)
	}
	return result, nil
}
