package server

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultAllowedExtensions is the closed set of file types the static handler
// will serve. Anything else under the web root, including files an attacker
// manages to place there, stays invisible.
var DefaultAllowedExtensions = []string{".css", ".html", ".js", ".json", ".ttf", ".map"}

var staticContentTypes = map[string]string{
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".map":  "application/json",
	".ttf":  "font/ttf",
}

type staticHandler struct {
	root    string
	allowed map[string]struct{}
	logger  *slog.Logger
}

func newStaticHandler(root string, extensions []string, logger *slog.Logger) (*staticHandler, error) {
	if root == "" {
		root = "web"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = DefaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &staticHandler{root: abs, allowed: allowed, logger: logger}, nil
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "unsupported request", http.StatusBadRequest)
		return
	}

	name := r.URL.Path
	if name == "/" || name == "" {
		name = "/index.html"
	}

	target, ok := h.resolve(name)
	if !ok {
		h.logger.Debug("static request refused", "path", r.URL.Path)
		http.NotFound(w, r)
		return
	}

	file, err := os.Open(target)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	ext := strings.ToLower(filepath.Ext(target))
	contentType := staticContentTypes[ext]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, file); err != nil {
		h.logger.Debug("static response interrupted", "path", r.URL.Path, "error", err)
	}
}

// resolve maps a URL path onto the web root and enforces the sandbox: the
// resolved absolute path must stay under the root, and the extension must be
// on the allow-list.
func (h *staticHandler) resolve(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := h.allowed[ext]; !ok {
		return "", false
	}
	joined := filepath.Join(h.root, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", false
	}
	if abs != h.root && !strings.HasPrefix(abs, h.root+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}
