package httpserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/runtime-init/onboard"
	"go.uber.org/atomic"
)

type HTTPServerConfig struct {
	ListenAddr  string
	EnablePprof bool
	Log         *slog.Logger
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	// TLSCert, when set, switches the server to https.
	TLSCert *tls.Certificate

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Status is the document served at /status.
type Status struct {
	Status       string                `json:"status"`
	CurrentPhase string                `json:"currentPhase,omitempty"`
	Phases       []onboard.PhaseResult `json:"phases"`
	Summary      *onboard.Summary      `json:"summary,omitempty"`
}

type Server struct {
	cfg      *HTTPServerConfig
	isReady  atomic.Bool
	finished atomic.Bool
	log      *slog.Logger

	srv *http.Server

	mu           sync.Mutex
	status       Status
	phaseStarted time.Time
}

func New(cfg *HTTPServerConfig) *Server {
	srv := &Server{
		cfg:    cfg,
		log:    cfg.Log,
		status: Status{Status: onboard.StatusRunning, Phases: []onboard.PhaseResult{}},
	}

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/status", srv.handleStatus)

	if srv.cfg.Metrics != nil {
		mux.Handle("/metrics", srv.cfg.Metrics)
	}
	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !srv.isReady.Load() {
		status := onboard.StatusRunning
		if srv.finished.Load() {
			status = onboard.StatusFailure
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := srv.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		srv.log.Error("Failed to encode status", "err", err)
	}
}

// Status returns a copy of the current run status.
func (srv *Server) Status() Status {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	status := srv.status
	status.Phases = append([]onboard.PhaseResult{}, srv.status.Phases...)
	if srv.status.Summary != nil {
		summary := *srv.status.Summary
		status.Summary = &summary
	}
	return status
}

func (srv *Server) PhaseStarted(phase string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.status.CurrentPhase = phase
	srv.phaseStarted = time.Now()
}

func (srv *Server) PhaseCompleted(phase string, duration time.Duration, err error) {
	// Raw errors may carry secrets. The masked text arrives with RunCompleted.
	result := onboard.PhaseResult{Phase: phase, Status: onboard.StatusSuccess, Duration: duration}
	if err != nil {
		result.Status = onboard.StatusFailure
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	result.Started = srv.phaseStarted
	srv.status.Phases = append(srv.status.Phases, result)
	srv.status.CurrentPhase = ""
}

func (srv *Server) RunCompleted(summary onboard.Summary) {
	srv.mu.Lock()
	srv.status.Status = summary.Status
	srv.status.Summary = &summary
	if len(summary.Phases) > 0 {
		srv.status.Phases = append([]onboard.PhaseResult{}, summary.Phases...)
	}
	srv.mu.Unlock()

	srv.finished.Store(true)
	srv.isReady.Store(summary.Status == onboard.StatusSuccess)
	srv.log.Info("Run status published", slog.String("status", summary.Status))
}

// RunInBackground starts serving. The listener is bound before returning so
// that bind errors reach the caller.
func (srv *Server) RunInBackground() error {
	ln, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if srv.cfg.TLSCert != nil {
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{*srv.cfg.TLSCert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", ln.Addr().String())
		if err := srv.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
	return nil
}

func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}
}
