package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
	"gopkg.in/yaml.v3"
)

// ByteLoader fetches raw content by location.
type ByteLoader interface {
	LoadBytes(ctx context.Context, uri string, opts resolver.Options) ([]byte, error)
}

// LoadConfig reads the onboarding document at location, a file path or any
// location the loader supports. YAML and JSON are accepted; unknown keys are
// ignored.
func LoadConfig(ctx context.Context, loader ByteLoader, location string) (*interfaces.OnboardConfig, error) {
	data, err := loader.LoadBytes(ctx, configURI(location), resolver.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", location, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates an onboarding document.
func ParseConfig(data []byte) (*interfaces.OnboardConfig, error) {
	var cfg interfaces.OnboardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config document: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configURI(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		location = abs
	}
	return "file://" + location
}

// Validate checks the document for errors that would otherwise surface only
// mid-run. Extension versions are checked against the built-in metadata.
func Validate(cfg *interfaces.OnboardConfig) error {
	return validate(cfg, DefaultExtensionMetadata())
}

func validate(cfg *interfaces.OnboardConfig, metadata *ExtensionMetadata) error {
	var errs []error

	seen := make(map[string]bool)
	for i, p := range cfg.RuntimeParameters {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("runtime_parameters[%d]: missing name", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("runtime_parameters[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case interfaces.ParameterSecret:
			if p.SecretProvider == nil || p.SecretProvider.Environment == "" {
				errs = append(errs, fmt.Errorf("runtime parameter %s: secretProvider.environment required", p.Name))
			}
		case interfaces.ParameterMetadata:
			if p.MetadataProvider == nil || p.MetadataProvider.Environment == "" {
				errs = append(errs, fmt.Errorf("runtime parameter %s: metadataProvider.environment required", p.Name))
			}
		case interfaces.ParameterURL, interfaces.ParameterStatic:
		default:
			errs = append(errs, fmt.Errorf("runtime parameter %s: unsupported type %q", p.Name, p.Type))
		}
	}

	for _, stage := range []struct {
		phase string
		ops   []interfaces.Operation
	}{
		{PhasePreOnboard, cfg.PreOnboard},
		{PhaseBigIPReady, cfg.BigIPReady},
		{PhasePostOnboard, cfg.PostOnboard},
	} {
		phase := stage.phase
		for i, op := range stage.ops {
			switch op.Type {
			case interfaces.OperationInline, interfaces.OperationFile, interfaces.OperationURL:
			default:
				errs = append(errs, fmt.Errorf("%s[%d] %q: unsupported type %q", phase, i, op.Name, op.Type))
			}
			if err := op.Policy(interfaces.DefaultOperationPolicy).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d] %q: %w", phase, i, op.Name, err))
			}
		}
	}

	for i, ext := range cfg.ExtensionPackages.InstallOperations {
		if ext.ExtensionType == "" {
			errs = append(errs, fmt.Errorf("install_operations[%d]: missing extensionType", i))
		}
		switch {
		case ext.ExtensionURL != "":
		case ext.ExtensionVersion == "":
			errs = append(errs, fmt.Errorf("install_operations[%d] %s: extensionUrl or extensionVersion required", i, ext.ExtensionType))
		case cfg.Controls.ExtensionMetadataURL == "" && !metadata.HasRelease(ext.ExtensionType, ext.ExtensionVersion):
			errs = append(errs, fmt.Errorf("install_operations[%d] %s: no download location for version %q, set extensionUrl or controls.extensionMetadataUrl",
				i, ext.ExtensionType, ext.ExtensionVersion))
		}
	}

	for i, svc := range cfg.ExtensionServices.ServiceOperations {
		if svc.ExtensionType == "" {
			errs = append(errs, fmt.Errorf("service_operations[%d]: missing extensionType", i))
		}
		switch svc.Type {
		case "url", "inline":
		default:
			errs = append(errs, fmt.Errorf("service_operations[%d] %s: unsupported type %q", i, svc.ExtensionType, svc.Type))
		}
	}

	for _, p := range []*interfaces.RetryPolicy{cfg.Controls.ReadyCheck, cfg.Controls.DefaultRetry} {
		if p != nil {
			if err := p.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("controls: %w", err))
			}
		}
	}
	if cfg.Controls.ExtensionInstallDelayInMs < 0 {
		errs = append(errs, errors.New("controls: extensionInstallDelayInMs must be >= 0"))
	}
	if _, err := ParseLogLevel(cfg.Controls.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("controls: %w", err))
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps controls.logLevel to a slog level. Empty means info.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "silly", "verbose":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
