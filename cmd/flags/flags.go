package flags

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/runtime-init/bigip"
	"github.com/ruteri/runtime-init/common"
	"github.com/ruteri/runtime-init/cryptoutils"
	"github.com/ruteri/runtime-init/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the logger from the log flags. The returned level can
// be adjusted once the onboarding document is loaded.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger, level *slog.LevelVar) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	level = new(slog.LevelVar)
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Level:   level,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger, level
}

// ConfigureServer returns the status server config, or nil when no listen
// address is set.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	listenAddr := cCtx.String(StatusAddrFlag.Name)
	if listenAddr == "" {
		return nil
	}
	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// StatusCert returns a self-signed certificate for the status server when
// --status-tls is set, nil otherwise.
func StatusCert(cCtx *cli.Context) (*tls.Certificate, error) {
	if !cCtx.Bool(StatusTLSFlag.Name) {
		return nil, nil
	}
	host, _, err := net.SplitHostPort(cCtx.String(StatusAddrFlag.Name))
	if err != nil {
		return nil, err
	}
	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" {
		hosts = append(hosts, host)
	}
	cert, err := cryptoutils.SelfSignedCert(365*24*time.Hour, hosts...)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// ManagementState returns the management client settings from the flags.
func ManagementState(cCtx *cli.Context) (bigip.State, error) {
	state := bigip.DefaultState()
	state.Host = cCtx.String(HostFlag.Name)
	state.Port = cCtx.Int(PortFlag.Name)
	state.Scheme = cCtx.String(SchemeFlag.Name)
	state.User = cCtx.String(UserFlag.Name)
	state.Password = cCtx.String(PasswordFlag.Name)
	state.VerifyTLS = !cCtx.Bool(SkipTLSVerifyFlag.Name)
	state.Timeout = cCtx.Duration(RequestTimeoutFlag.Name)

	if bundle := cCtx.String(CABundleFlag.Name); bundle != "" {
		data, err := os.ReadFile(bundle)
		if err != nil {
			return state, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool, err := cryptoutils.CertPool(data)
		if err != nil {
			return state, err
		}
		state.RootCAs = pool
	}
	return state, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:     "config-file",
	Aliases:  []string{"c"},
	Required: true,
	EnvVars:  []string{"RUNTIME_INIT_CONFIG"},
	Usage:    "onboarding document: a file path or any supported location (file, http(s), s3, ipfs)",
}

var HostFlag = &cli.StringFlag{
	Name:    "host",
	Value:   "localhost",
	EnvVars: []string{"RUNTIME_INIT_HOST"},
	Usage:   "management API host",
}
var PortFlag = &cli.IntFlag{
	Name:    "port",
	Value:   bigip.DefaultPort,
	EnvVars: []string{"RUNTIME_INIT_PORT"},
	Usage:   "management API port",
}
var SchemeFlag = &cli.StringFlag{
	Name:    "scheme",
	Value:   "http",
	EnvVars: []string{"RUNTIME_INIT_SCHEME"},
	Usage:   "management API scheme: 'http' or 'https'",
}
var UserFlag = &cli.StringFlag{
	Name:    "user",
	Value:   "admin",
	EnvVars: []string{"RUNTIME_INIT_USER"},
	Usage:   "management API user",
}
var PasswordFlag = &cli.StringFlag{
	Name:    "password",
	Value:   "admin",
	EnvVars: []string{"RUNTIME_INIT_PASSWORD"},
	Usage:   "management API password",
}
var SkipTLSVerifyFlag = &cli.BoolFlag{
	Name:    "skip-tls-verify",
	Value:   false,
	EnvVars: []string{"RUNTIME_INIT_SKIP_TLS_VERIFY"},
	Usage:   "do not verify the management API certificate",
}
var CABundleFlag = &cli.StringFlag{
	Name:    "ca-bundle",
	EnvVars: []string{"RUNTIME_INIT_CA_BUNDLE"},
	Usage:   "PEM file of CA certificates trusted for the management API",
}
var RequestTimeoutFlag = &cli.DurationFlag{
	Name:  "request-timeout",
	Value: 60 * time.Second,
	Usage: "timeout of a single management API request",
}
var DownloadDirFlag = &cli.StringFlag{
	Name:    "download-dir",
	EnvVars: []string{"RUNTIME_INIT_DOWNLOAD_DIR"},
	Usage:   "directory for extension packages and scripts, overrides controls.downloadDir",
}
var StatusAddrFlag = &cli.StringFlag{
	Name:  "status-addr",
	Value: "",
	Usage: "address to serve run status and metrics on, disabled when empty",
}

var StatusTLSFlag = &cli.BoolFlag{
	Name:  "status-tls",
	Value: false,
	Usage: "serve the status server over https with a self-signed certificate",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "runtime-init",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint on the status server",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
}
