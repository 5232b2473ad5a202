package server

import (
	"context"
	"errors"
	"net/http"

	"sentrycam/internal/media"
)

func noCacheHeaders(h http.Header) {
	h.Set("Connection", "close")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, pre-check=0, post-check=0, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "-1")
}

// handleVideo serves an endless multipart JPEG stream. Response headers are
// staged but not flushed until the session writes its first part, so a capture
// loop with no signal still yields a clean 503.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "unsupported request", http.StatusBadRequest)
		return
	}
	noCacheHeaders(w.Header())
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+media.MJPEGBoundary)

	err := s.cfg.Engine.ServeVideo(r.Context(), w)
	s.finishStream(w, r, "video", err)
}

// handleAudio serves a WAV header followed by endless PCM.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "unsupported request", http.StatusBadRequest)
		return
	}
	noCacheHeaders(w.Header())
	w.Header().Set("Content-Type", "audio/x-wav")

	err := s.cfg.Engine.ServeAudio(r.Context(), w)
	s.finishStream(w, r, "audio", err)
}

func (s *Server) finishStream(w http.ResponseWriter, r *http.Request, kind string, err error) {
	ip := clientIP(r.RemoteAddr)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Debug("stream client disconnected", "kind", kind, "remote_ip", ip)
	case errors.Is(err, media.ErrNoSignal):
		header := w.Header()
		for _, k := range []string{"Connection", "Cache-Control", "Pragma", "Expires", "Content-Type"} {
			header.Del(k)
		}
		s.logger.Info("stream unavailable", "kind", kind, "remote_ip", ip)
		http.Error(w, kind+" stream not available", http.StatusServiceUnavailable)
	case errors.Is(err, media.ErrStreamStalled):
		s.logger.Warn("stream stalled, dropping client", "kind", kind, "remote_ip", ip)
	default:
		// Broken pipes and reset connections land here; clients leave abruptly.
		s.logger.Debug("stream write failed", "kind", kind, "remote_ip", ip, "error", err)
	}
}
