/*
Package httpserver exposes the progress of an onboarding run over HTTP.

The server is optional and runs next to the orchestrator for the lifetime of
the process. It receives phase events as an onboard.Observer.

Endpoints:

  - GET /livez    always 200 while the process is up
  - GET /readyz   200 once the run finished successfully, 503 before that or after a failure
  - GET /status   JSON timeline of the run: current phase, completed phases, final summary
  - GET /metrics  Prometheus metrics, when a metrics handler is configured
  - /debug/pprof  profiling, when enabled

Requests are logged through the flashbots go-utils slog middleware.
*/
package httpserver
