// Package common holds process-wide helpers shared by the binaries.
package common

// PackageName is used as the metrics namespace and default log service.
const PackageName = "runtime_init"

// Version is set at build time with -ldflags "-X github.com/ruteri/runtime-init/common.Version=...".
var Version = "dev"
