package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ruteri/runtime-init/bigip"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
	"gopkg.in/yaml.v3"
)

// configureServices sends each service declaration to its extension and
// waits for asynchronous declarations to settle.
func (o *Orchestrator) configureServices(ctx context.Context) error {
	for i, svc := range o.doc.ExtensionServices.ServiceOperations {
		name := fmt.Sprintf("%s[%d]", strings.ToLower(svc.ExtensionType), i)
		if err := o.configureService(ctx, svc); err != nil {
			return fail(PhaseExtensionServices, name, err)
		}
	}
	return nil
}

func (o *Orchestrator) configureService(ctx context.Context, svc interfaces.ServiceOperation) error {
	component, known := o.metadata.Component(svc.ExtensionType)

	endpoint := svc.Endpoint
	if endpoint == "" && known {
		endpoint = component.Endpoints.Configure
	}
	if endpoint == "" {
		return fmt.Errorf("no configure endpoint for extension %q", svc.ExtensionType)
	}
	method := strings.ToUpper(svc.Method)
	if method == "" {
		method = http.MethodPost
	}

	payload, err := o.declaration(ctx, svc)
	if err != nil {
		return err
	}

	policy := o.networkPolicy.With(o.log, method+" "+endpoint)
	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*bigip.Response, error) {
		return o.mgmt.Request(ctx, method, endpoint, payload)
	})
	if err != nil {
		return err
	}

	taskPath := ""
	if known {
		taskPath = component.Endpoints.TaskPath(bigip.TaskID(resp))
	}
	final, err := o.mgmt.AwaitResponse(ctx, resp, taskPath)
	if err != nil {
		return err
	}

	o.log.Info("Applied service declaration",
		slog.String("extension", svc.ExtensionType),
		slog.String("endpoint", endpoint),
		slog.Int("status", final.Status))
	return nil
}

// declaration produces the rendered payload of svc. Remote and textual
// declarations are rendered as text before decoding.
func (o *Orchestrator) declaration(ctx context.Context, svc interfaces.ServiceOperation) (any, error) {
	switch svc.Type {
	case "url":
		location, ok := svc.Value.(string)
		if !ok || location == "" {
			return nil, fmt.Errorf("url declarations need a string value, got %T", svc.Value)
		}
		location, err := o.render(location)
		if err != nil {
			return nil, err
		}
		data, err := retry.Do(ctx, o.networkPolicy.With(o.log, "load declaration"), func(ctx context.Context) ([]byte, error) {
			return o.resolver.LoadBytes(ctx, location, tlsOptions(svc.VerifyTLS))
		})
		if err != nil {
			return nil, err
		}
		return o.decodeDeclaration(string(data))
	case "inline":
		if text, ok := svc.Value.(string); ok {
			return o.decodeDeclaration(text)
		}
		return o.renderValue(svc.Value)
	default:
		return nil, fmt.Errorf("unsupported service operation type %q", svc.Type)
	}
}

// decodeDeclaration renders text and decodes it as YAML, which includes JSON.
func (o *Orchestrator) decodeDeclaration(text string) (any, error) {
	rendered, err := o.render(text)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := yaml.Unmarshal([]byte(rendered), &payload); err != nil {
		return nil, fmt.Errorf("invalid declaration: %w", err)
	}
	if payload == nil {
		return nil, errors.New("empty declaration")
	}
	return payload, nil
}
