package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/runtime-init/bigip"
	"github.com/ruteri/runtime-init/cloud"
	"github.com/ruteri/runtime-init/cmd/flags"
	"github.com/ruteri/runtime-init/common"
	"github.com/ruteri/runtime-init/httpserver"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/metrics"
	"github.com/ruteri/runtime-init/onboard"
	"github.com/ruteri/runtime-init/resolver"
	"github.com/ruteri/runtime-init/retry"
	"github.com/urfave/cli/v2"
)

var validateFlag = &cli.BoolFlag{
	Name:  "validate",
	Value: false,
	Usage: "load and validate the onboarding document, then exit",
}

func main() {
	app := &cli.App{
		Name:    "runtime-init",
		Usage:   "Onboard a device from a declarative document",
		Version: common.Version,
		Flags: append([]cli.Flag{
			flags.ConfigFlag,
			flags.HostFlag,
			flags.PortFlag,
			flags.SchemeFlag,
			flags.UserFlag,
			flags.PasswordFlag,
			flags.SkipTLSVerifyFlag,
			flags.RequestTimeoutFlag,
			flags.CABundleFlag,
			flags.DownloadDirFlag,
			flags.StatusAddrFlag,
			flags.StatusTLSFlag,
			validateFlag,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger, level := flags.SetupLogger(cCtx)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatcher := cloud.NewDispatcher(logger)
	res := resolver.NewResolver(logger, dispatcher)
	dispatcher.SetLoader(res)

	location := cCtx.String(flags.ConfigFlag.Name)
	doc, err := onboard.LoadConfig(ctx, res, location)
	if err != nil {
		logger.Error("Failed to load onboarding document", "location", location, "err", err)
		return cli.Exit(err.Error(), 1)
	}

	if !cCtx.Bool(flags.LogDebugFlag.Name) {
		// Validated by LoadConfig.
		docLevel, _ := onboard.ParseLogLevel(doc.Controls.LogLevel)
		level.Set(docLevel)
	}

	if cCtx.Bool(validateFlag.Name) {
		logger.Info("Onboarding document is valid",
			"location", location,
			"parameters", len(doc.RuntimeParameters),
			"extensions", len(doc.ExtensionPackages.InstallOperations))
		return nil
	}

	state, err := flags.ManagementState(cCtx)
	if err != nil {
		logger.Error("Invalid management API settings", "err", err)
		return cli.Exit(err.Error(), 1)
	}
	state.ReadyPolicy = retry.FromConfig(interfaces.PolicyOr(doc.Controls.ReadyCheck, interfaces.DefaultReadyPolicy))
	mgmt := bigip.NewClient(logger, state)

	recorder := metrics.NewRecorder(common.PackageName)
	observers := []onboard.Observer{recorder}

	if cfg := flags.ConfigureServer(cCtx, logger); cfg != nil {
		cfg.Metrics = recorder.Handler()
		if cfg.TLSCert, err = flags.StatusCert(cCtx); err != nil {
			logger.Error("Failed to create status server certificate", "err", err)
			return cli.Exit(err.Error(), 1)
		}
		srv := httpserver.New(cfg)
		if err := srv.RunInBackground(); err != nil {
			logger.Error("Failed to start status server", "err", err)
			return cli.Exit(err.Error(), 1)
		}
		defer srv.Shutdown()
		observers = append(observers, srv)
	}

	orchestrator, err := onboard.New(logger, onboard.Config{
		Document:    doc,
		Version:     common.Version,
		DownloadDir: cCtx.String(flags.DownloadDirFlag.Name),
	}, onboard.Dependencies{
		Resolver:   res,
		Management: mgmt,
		Observers:  observers,
	})
	if err != nil {
		logger.Error("Invalid onboarding setup", "err", err)
		return cli.Exit(err.Error(), 1)
	}

	if err := orchestrator.Run(ctx); err != nil {
		summary := orchestrator.Summary()
		return cli.Exit(fmt.Sprintf("onboarding failed (run %s): %s", summary.RunID, summary.Error), 1)
	}
	return nil
}
