package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentrycam/internal/auth"
	"sentrycam/internal/observability/metrics"
)

func globalLimitMiddleware(limiter *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allowRequest() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authExempt reports whether a request may pass without credentials. Preflight
// requests never carry credentials, the bare /api probe is how clients learn
// the protocol versions before they have a session, and the health and metrics
// endpoints are scraped by infrastructure.
func authExempt(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api", "/healthz", "/metrics":
		return true
	}
	return false
}

func basicAuthMiddleware(authenticator auth.Authenticator, realm string, limiter *rateLimiter, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	challenge := fmt.Sprintf("Basic realm=%q", realm)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			recorder.ObserveAuth("missing")
			denyAuth(w, challenge)
			return
		}

		ip := clientIP(r.RemoteAddr)
		if allowed, retryAfter := limiter.allowLogin(ip); !allowed {
			logger.Warn("login rate limit exceeded", "remote_ip", ip)
			recorder.ObserveAuth("throttled")
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			}
			http.Error(w, "too many authentication attempts", http.StatusTooManyRequests)
			return
		}

		if !authenticator.Authenticate(r.Context(), username, password) {
			logger.Debug("authentication failed", "username", username, "remote_ip", ip)
			recorder.ObserveAuth("rejected")
			denyAuth(w, challenge)
			return
		}

		recorder.ObserveAuth("accepted")
		next.ServeHTTP(w, r)
	})
}

func denyAuth(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Authentication Failed"))
}
