// Package server owns the HTTP protocol surface: the listening socket and its
// lifecycle, per-request Basic authentication, CORS preflight, the sandboxed
// static file root, and the long-lived media streaming endpoints.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"sentrycam/internal/api"
	"sentrycam/internal/auth"
	"sentrycam/internal/media"
	"sentrycam/internal/observability/metrics"
)

// TLSConfig points at certificate material on disk. TLS engages when CertFile
// is configured and present; a configured-but-broken certificate fails Start
// rather than silently serving plaintext.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config is the read-mostly state shared across connection handlers. Only the
// log level changes at runtime, and only through the disruptive SetDebug
// restart.
type Config struct {
	Addr              string
	Realm             string
	WebRoot           string
	AllowedExtensions []string
	TLS               TLSConfig
	RateLimit         RateLimitConfig
	Logger            *slog.Logger
	LogLevel          *slog.LevelVar
	Metrics           *metrics.Recorder
	Authenticator     auth.Authenticator
	// Engine enables the /video and /audio streaming endpoints when the
	// deployment exposes a media daemon; nil disables them.
	Engine *media.Engine
}

const (
	defaultRealm        = "sentrycam"
	shutdownGracePeriod = 5 * time.Second
)

// Server accepts connections and serves the protocol. Start, Shutdown, and
// SetDebug may be called repeatedly from the operator surface; each is a
// logged no-op when the server is already in the requested state.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	handler     http.Handler
	rateLimiter *rateLimiter

	mu         sync.Mutex
	httpServer *http.Server
	boundAddr  string
	scheme     string
}

// New validates the configuration and builds the handler chain. The listener
// is not bound until Start.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Realm == "" {
		cfg.Realm = defaultRealm
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	cfg.Metrics = recorder

	static, err := newStaticHandler(cfg.WebRoot, cfg.AllowedExtensions, cfg.Logger)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:         cfg,
		logger:      cfg.Logger,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api", handler.Dispatch)
	mux.HandleFunc("/api/", handler.Dispatch)
	if cfg.Engine != nil {
		mux.HandleFunc("/video", srv.handleVideo)
		mux.HandleFunc("/audio", srv.handleAudio)
	}
	mux.Handle("/", static)

	chain := http.Handler(mux)
	chain = basicAuthMiddleware(cfg.Authenticator, cfg.Realm, srv.rateLimiter, recorder, cfg.Logger, chain)
	chain = corsMiddleware(chain)
	chain = globalLimitMiddleware(srv.rateLimiter, chain)
	chain = metricsMiddleware(recorder, chain)
	chain = loggingMiddleware(cfg.Logger, chain)
	srv.handler = chain

	return srv, nil
}

// Start binds the listener, wraps it in TLS when a certificate is configured
// and present on disk, and serves on a background goroutine. Starting a
// running server is a logged no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		s.logger.Warn("http service cannot start, already listening")
		return nil
	}

	s.logger.Info("http service starting")
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}

	scheme := "http"
	if cert := strings.TrimSpace(s.cfg.TLS.CertFile); cert != "" {
		if _, statErr := os.Stat(cert); statErr == nil {
			pair, err := tls.LoadX509KeyPair(cert, s.cfg.TLS.KeyFile)
			if err != nil {
				ln.Close()
				return fmt.Errorf("load tls certificate: %w", err)
			}
			s.logger.Info("http service loading tls certificate", "cert", cert)
			ln = tls.NewListener(ln, &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{pair},
			})
			scheme = "https"
		}
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer = httpServer
	s.boundAddr = ln.Addr().String()
	s.scheme = scheme

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http service serve failed", "error", err)
		}
	}()

	s.logger.Info("http service listening", "url", fmt.Sprintf("%s://%s", scheme, s.boundAddr))
	return nil
}

// Shutdown closes the listening socket and stops the accept loop. In-flight
// connections get a short grace period, then are closed; streaming handlers
// observe the close as a failed write and treat it as a normal disconnect.
// Shutting down a stopped server is a logged no-op.
func (s *Server) Shutdown() {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if httpServer == nil {
		s.logger.Warn("http service offline, aborting repeat shutdown")
		return
	}

	s.logger.Info("http service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		// Long-lived streaming connections rarely drain in time; close them.
		_ = httpServer.Close()
	}
	s.logger.Info("http service offline")
}

// SetDebug flips logging verbosity. Disruptive: the listener restarts around
// the change, dropping any in-flight streams.
func (s *Server) SetDebug(enabled bool) {
	s.Shutdown()
	if s.cfg.LogLevel != nil {
		if enabled {
			s.logger.Info("http service enabling debugging")
			s.cfg.LogLevel.Set(slog.LevelDebug)
		} else {
			s.logger.Info("http service disabling debugging")
			s.cfg.LogLevel.Set(slog.LevelInfo)
		}
	}
	if err := s.Start(); err != nil {
		s.logger.Error("http service restart failed", "error", err)
	}
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer != nil
}

// Addr returns the bound listener address, for callers that started on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		logger.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", clientIP(r.RemoteAddr))
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
