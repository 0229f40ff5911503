package onboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/runtime-init/bigip"
	"github.com/ruteri/runtime-init/instanceutils/configresolver"
	"github.com/ruteri/runtime-init/instanceutils/shell"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/resolver"
	"github.com/ruteri/runtime-init/retry"
)

// Phase names, in execution order.
const (
	PhaseParameters        = "runtime_parameters"
	PhasePreOnboard        = "pre_onboard_enabled"
	PhaseReadyCheck        = "ready_check"
	PhaseBigIPReady        = "bigip_ready_enabled"
	PhaseExtensionPackages = "extension_packages"
	PhaseExtensionServices = "extension_services"
	PhasePostOnboard       = "post_onboard_enabled"
)

// DefaultDownloadDir receives extension packages and remote scripts.
const DefaultDownloadDir = "/var/config/rest/downloads"

// Resolver loads locations for parameters, payloads, packages and scripts.
type Resolver interface {
	Load(ctx context.Context, uri string, opts resolver.Options) (any, error)
	LoadBytes(ctx context.Context, uri string, opts resolver.Options) ([]byte, error)
	DownloadToFile(ctx context.Context, uri, dest string, opts resolver.Options) error
}

// Management is the subset of the management API a run drives.
type Management interface {
	IsReady(ctx context.Context) (bool, error)
	Request(ctx context.Context, method, path string, body any) (*bigip.Response, error)
	UploadFile(ctx context.Context, localPath string) (string, error)
	InstallPackage(ctx context.Context, remotePath string) error
	InstalledPackages(ctx context.Context) ([]bigip.Package, error)
	AwaitEndpoint(ctx context.Context, path string) (*bigip.Response, error)
	AwaitResponse(ctx context.Context, resp *bigip.Response, taskPath string) (*bigip.Response, error)
}

// Shell runs operation commands.
type Shell interface {
	Run(ctx context.Context, command string) (*shell.Result, error)
	RunFile(ctx context.Context, path string) (*shell.Result, error)
}

// Config carries everything a run needs besides its collaborators. It is
// built once at process start; nothing below reads the environment.
type Config struct {
	Document *interfaces.OnboardConfig

	// RunID identifies the run in logs, status and hooks. Generated when empty.
	RunID   string
	Version string

	// DownloadDir overrides controls.downloadDir and DefaultDownloadDir.
	DownloadDir string
	// NetworkPolicy overrides controls.defaultRetry for parameter resolution,
	// downloads and management requests.
	NetworkPolicy *retry.Policy
	// Metadata overrides the built-in extension metadata.
	Metadata *ExtensionMetadata
}

// Dependencies are the collaborators of a run.
type Dependencies struct {
	Resolver   Resolver
	Management Management
	// Shell defaults to a /bin/sh executor masking secret parameters.
	Shell     Shell
	Observers []Observer
}

// Orchestrator executes one onboarding run. It is not reusable.
type Orchestrator struct {
	log       *slog.Logger
	cfg       Config
	doc       *interfaces.OnboardConfig
	resolver  Resolver
	mgmt      Management
	shell     Shell
	observers observers

	networkPolicy retry.Policy
	downloadDir   string
	metadata      *ExtensionMetadata

	params  *interfaces.Parameters
	masker  *configresolver.Masker
	summary Summary
}

// New validates cfg and returns an orchestrator ready to Run.
func New(log *slog.Logger, cfg Config, deps Dependencies) (*Orchestrator, error) {
	if cfg.Document == nil {
		return nil, errors.New("no onboarding document")
	}
	if deps.Resolver == nil {
		return nil, errors.New("no resolver")
	}
	if deps.Management == nil {
		return nil, errors.New("no management client")
	}
	metadata := cfg.Metadata
	if metadata == nil {
		metadata = DefaultExtensionMetadata()
	}
	if err := validate(cfg.Document, metadata); err != nil {
		return nil, err
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	o := &Orchestrator{
		log:       log.With(slog.String("run_id", cfg.RunID)),
		cfg:       cfg,
		doc:       cfg.Document,
		resolver:  deps.Resolver,
		mgmt:      deps.Management,
		shell:     deps.Shell,
		observers: deps.Observers,
	}

	o.networkPolicy = retry.FromConfig(interfaces.PolicyOr(o.doc.Controls.DefaultRetry, interfaces.DefaultRetryPolicy))
	if cfg.NetworkPolicy != nil {
		o.networkPolicy = *cfg.NetworkPolicy
	}

	o.downloadDir = DefaultDownloadDir
	if o.doc.Controls.DownloadDir != "" {
		o.downloadDir = o.doc.Controls.DownloadDir
	}
	if cfg.DownloadDir != "" {
		o.downloadDir = cfg.DownloadDir
	}

	o.metadata = metadata
	return o, nil
}

type phase struct {
	name string
	run  func(ctx context.Context) error
}

// Run executes every phase in order and stops at the first failure, which is
// returned as a *PhaseError. Nothing done before the failure is undone. Post
// hooks are notified of the outcome either way.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.summary = Summary{
		RunID:   o.cfg.RunID,
		Version: o.cfg.Version,
		Status:  StatusRunning,
		Started: time.Now(),
	}

	phases := []phase{
		{PhaseParameters, o.resolveParameters},
		{PhasePreOnboard, o.operations(PhasePreOnboard, o.doc.PreOnboard)},
		{PhaseReadyCheck, o.waitReady},
		{PhaseBigIPReady, o.operations(PhaseBigIPReady, o.doc.BigIPReady)},
		{PhaseExtensionPackages, o.installExtensions},
		{PhaseExtensionServices, o.configureServices},
		{PhasePostOnboard, o.operations(PhasePostOnboard, o.doc.PostOnboard)},
	}

	o.log.Info("Starting onboarding", slog.Int("phases", len(phases)), slog.String("version", o.cfg.Version))

	err := o.runPhases(ctx, phases)

	o.summary.Duration = time.Since(o.summary.Started)
	if err != nil {
		o.summary.Status = StatusFailure
		o.summary.Error = o.mask(err.Error())
		o.log.Error("Onboarding failed", slog.Duration("duration", o.summary.Duration), "err", o.summary.Error)
	} else {
		o.summary.Status = StatusSuccess
		o.log.Info("Onboarding completed", slog.Duration("duration", o.summary.Duration))
	}

	// Hooks report cancelled runs too, so they do not inherit cancellation.
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postHookDeadline)
	o.runPostHooks(hookCtx, o.summary)
	cancel()
	o.observers.RunCompleted(o.summary)
	return err
}

func (o *Orchestrator) runPhases(ctx context.Context, phases []phase) error {
	for i, p := range phases {
		start := time.Now()
		o.log.Info("Starting phase", slog.String("phase", p.name), slog.Int("step", i+1), slog.Int("of", len(phases)))
		o.observers.PhaseStarted(p.name)

		err := ctx.Err()
		if err == nil {
			err = p.run(ctx)
		}
		if err != nil {
			var phaseErr *PhaseError
			if !errors.As(err, &phaseErr) {
				err = &PhaseError{Phase: p.name, Err: err}
			}
		}

		result := PhaseResult{Phase: p.name, Status: StatusSuccess, Started: start, Duration: time.Since(start)}
		if err != nil {
			result.Status = StatusFailure
			result.Error = o.mask(err.Error())
		}
		o.summary.Phases = append(o.summary.Phases, result)
		o.observers.PhaseCompleted(p.name, result.Duration, err)

		if err != nil {
			return err
		}
		o.log.Info("Completed phase", slog.String("phase", p.name), slog.Duration("duration", result.Duration))
	}
	return nil
}

func (o *Orchestrator) resolveParameters(ctx context.Context) error {
	params, err := configresolver.ResolveParameters(ctx, o.log, o.doc.RuntimeParameters, o.resolver, o.networkPolicy)
	if err != nil {
		return err
	}
	o.params = params
	o.masker = configresolver.NewMasker(params)
	if o.shell == nil {
		o.shell = shell.NewExecutor(o.log, o.masker)
	}
	return nil
}

func (o *Orchestrator) waitReady(ctx context.Context) error {
	ready, err := o.mgmt.IsReady(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return interfaces.ErrReadyCheckFailed
	}
	return nil
}

// Parameters returns the resolved runtime parameters, nil before resolution.
func (o *Orchestrator) Parameters() *interfaces.Parameters {
	return o.params
}

// Summary returns the outcome of the last Run.
func (o *Orchestrator) Summary() Summary {
	return o.summary
}

func (o *Orchestrator) render(text string) (string, error) {
	return configresolver.Render(text, o.params)
}

// renderValue renders every string inside a decoded document.
func (o *Orchestrator) renderValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return o.render(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			r, err := o.renderValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			r, err := o.renderValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (o *Orchestrator) mask(text string) string {
	return o.masker.Mask(text)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fail(phase, operation string, err error) error {
	return &PhaseError{Phase: phase, Operation: operation, Err: err}
}

func tlsOptions(verify *bool) resolver.Options {
	return resolver.Options{SkipTLSVerify: !interfaces.BoolOr(verify, true)}
}
