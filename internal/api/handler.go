// Package api implements the versioned REST surface: an explicit route table
// keyed by HTTP method, API version, and resource name, with handlers for
// credential management and service diagnostics.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"sentrycam/internal/auth"
	"sentrycam/internal/media"
)

// DefaultVersions lists the API versions this server speaks.
var DefaultVersions = []string{"1.0"}

// RouteKey identifies one API operation. Method is upper-case, Resource
// lower-case; Dispatch normalizes incoming requests to match.
type RouteKey struct {
	Method   string
	Version  string
	Resource string
}

// Request carries the parsed pieces of one API call into a route handler.
type Request struct {
	Version  string
	Resource string
	// Rest holds the path segments after the resource name.
	Rest []string
	// Body is the decoded JSON payload, or nil when the request declared
	// none (or declared one that failed to parse).
	Body map[string]any
}

// RouteFunc executes one API operation and owns writing the response.
type RouteFunc func(w http.ResponseWriter, r *http.Request, req Request)

// Handler dispatches API calls against the registration table built at
// startup. No reflection: every operation is an explicit entry.
type Handler struct {
	Users    *auth.Service
	Engine   *media.Engine
	Versions []string

	// SetDebug toggles verbosity across the owning services. The debug
	// endpoint invokes it asynchronously because the toggle restarts the
	// very server the request arrived on.
	SetDebug func(enabled bool)

	logger *slog.Logger
	routes map[RouteKey]RouteFunc
}

// Config wires a Handler. Users is required; Engine and SetDebug are
// optional (their endpoints report 503 / 400 when absent).
type Config struct {
	Users    *auth.Service
	Engine   *media.Engine
	Versions []string
	SetDebug func(enabled bool)
	Logger   *slog.Logger
}

// NewHandler builds the route table for every supported version.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	versions := cfg.Versions
	if len(versions) == 0 {
		versions = DefaultVersions
	}
	h := &Handler{
		Users:    cfg.Users,
		Engine:   cfg.Engine,
		Versions: versions,
		SetDebug: cfg.SetDebug,
		logger:   logger,
		routes:   make(map[RouteKey]RouteFunc),
	}
	for _, version := range versions {
		h.Register(http.MethodGet, version, "users", h.listUsers)
		h.Register(http.MethodPost, version, "users", h.addUser)
		h.Register(http.MethodPut, version, "users", h.editUser)
		h.Register(http.MethodDelete, version, "users", h.removeUser)
		h.Register(http.MethodGet, version, "status", h.status)
		h.Register(http.MethodGet, version, "devices", h.devices)
		h.Register(http.MethodPost, version, "debug", h.debug)
	}
	return h
}

// Register adds one operation to the route table.
func (h *Handler) Register(method, version, resource string, fn RouteFunc) {
	key := RouteKey{
		Method:   strings.ToUpper(method),
		Version:  version,
		Resource: strings.ToLower(resource),
	}
	h.routes[key] = fn
}

// SupportsVersion reports whether the version string is served.
func (h *Handler) SupportsVersion(version string) bool {
	for _, v := range h.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// VersionProbe answers the unauthenticated `/api` version listing.
func (h *Handler) VersionProbe(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, map[string]any{"versions": h.Versions})
}

// Dispatch routes one authenticated `/api/...` request. Unknown versions and
// unmapped operations are protocol errors (400), never crashes.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	segments := apiSegments(r.URL.Path)
	if len(segments) == 0 {
		h.VersionProbe(w, r)
		return
	}

	version := segments[0]
	if !h.SupportsVersion(version) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, http.StatusBadRequest, map[string]any{"versions": h.Versions})
		return
	}
	if len(segments) < 2 {
		writeError(w, http.StatusBadRequest, errProtocol("missing resource"))
		return
	}

	req := Request{
		Version:  version,
		Resource: strings.ToLower(segments[1]),
		Rest:     segments[2:],
		Body:     h.readBody(r),
	}
	route, ok := h.routes[RouteKey{Method: strings.ToUpper(r.Method), Version: version, Resource: req.Resource}]
	if !ok {
		writeError(w, http.StatusBadRequest, errProtocol("unsupported operation"))
		return
	}
	route(w, r, req)
}

// readBody decodes an optional JSON payload. A body is only consumed when the
// request declares a positive Content-Length and a JSON content type;
// malformed JSON is logged and treated as no body, never a hard failure.
func (h *Handler) readBody(r *http.Request) map[string]any {
	if r.ContentLength <= 0 || r.Body == nil {
		return nil
	}
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, found := strings.Cut(contentType, ";"); found {
		contentType = mediaType
	}
	if strings.TrimSpace(contentType) != "application/json" {
		return nil
	}
	defer r.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		h.logger.Warn("invalid json body ignored", "path", r.URL.Path, "error", err)
		return nil
	}
	return body
}

// apiSegments strips the /api prefix and splits the remaining path.
func apiSegments(path string) []string {
	trimmed := strings.TrimPrefix(path, "/api")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
