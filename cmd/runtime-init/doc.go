// Package main (cmd/runtime-init) runs one onboarding pass against the local
// device.
//
// The onboarding document is read from --config-file, a path or any location
// the resolver supports. Management API settings come from flags or their
// RUNTIME_INIT_* environment variables. The process exits non-zero when any
// phase fails; the failing phase, operation and cause are logged.
//
// SIGINT and SIGTERM cancel the run between retries and abort running
// commands. Nothing done before the cancellation is undone.
//
// Example usage:
//
//	runtime-init --config-file /config/runtime-init-conf.yaml \
//	    --host localhost --port 8100 --user admin --password "$ADMIN_PASS" \
//	    --status-addr 127.0.0.1:8090
//
// Only validate a document:
//
//	runtime-init --config-file https://example.com/onboard.yaml --validate
package main
