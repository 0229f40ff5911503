package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
)

// operations returns a phase running ops in list order.
func (o *Orchestrator) operations(phase string, ops []interfaces.Operation) func(context.Context) error {
	return func(ctx context.Context) error {
		for i, op := range ops {
			name := op.Name
			if name == "" {
				name = fmt.Sprintf("%s[%d]", phase, i)
			}

			start := time.Now()
			err := o.runOperation(ctx, phase, name, op)
			if err != nil && op.IgnoreErrors {
				o.log.Warn("Operation failed, continuing",
					slog.String("phase", phase),
					slog.String("operation", name),
					"err", o.mask(err.Error()))
				continue
			}
			if err != nil {
				return fail(phase, name, err)
			}

			o.log.Info("Operation completed",
				slog.String("phase", phase),
				slog.String("operation", name),
				slog.Duration("duration", time.Since(start)))
		}
		return nil
	}
}

// runOperation runs every command of op. Each command is retried on its own
// under the operation's policy, which defaults to a single attempt.
func (o *Orchestrator) runOperation(ctx context.Context, phase, name string, op interfaces.Operation) error {
	policy := retry.FromConfig(op.Policy(interfaces.DefaultOperationPolicy)).With(o.log, name)

	for i, command := range op.Commands {
		rendered, err := o.render(command)
		if err != nil {
			return err
		}

		var run func(ctx context.Context) error
		switch op.Type {
		case interfaces.OperationInline:
			run = func(ctx context.Context) error {
				_, err := o.shell.Run(ctx, rendered)
				return err
			}
		case interfaces.OperationFile:
			run = func(ctx context.Context) error {
				_, err := o.shell.RunFile(ctx, rendered)
				return err
			}
		case interfaces.OperationURL:
			dest := filepath.Join(o.downloadDir, "scripts", fmt.Sprintf("%s-%d-%s", sanitize(name), i, path.Base(rendered)))
			run = func(ctx context.Context) error {
				if err := o.resolver.DownloadToFile(ctx, rendered, dest, tlsOptions(op.VerifyTLS)); err != nil {
					return err
				}
				_, err := o.shell.RunFile(ctx, dest)
				return err
			}
		default:
			return fmt.Errorf("unsupported operation type %q", op.Type)
		}

		o.log.Debug("Running operation command",
			slog.String("phase", phase),
			slog.String("operation", name),
			slog.Int("command", i),
			slog.String("type", string(op.Type)))

		if err := retry.Run(ctx, policy, run); err != nil {
			return err
		}
	}
	return nil
}

func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
