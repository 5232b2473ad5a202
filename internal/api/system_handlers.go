package api

import (
	"net/http"

	"sentrycam/internal/media"
)

func (h *Handler) status(w http.ResponseWriter, r *http.Request, _ Request) {
	payload := map[string]any{
		"versions": h.Versions,
	}
	if h.Users != nil {
		storeErr := h.Users.Ping(r.Context())
		payload["store"] = storeErr == nil
	}
	if h.Engine != nil {
		payload["media"] = h.Engine.Snapshot()
	} else {
		payload["media"] = media.Status{}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) devices(w http.ResponseWriter, _ *http.Request, _ Request) {
	if h.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, errProtocol("media service is not configured"))
		return
	}
	devices, err := h.Engine.Devices()
	if err != nil {
		h.logger.Error("device enumeration failed", "error", err)
		writeError(w, http.StatusInternalServerError, errProtocol("unable to enumerate devices"))
		return
	}
	if devices == nil {
		devices = []media.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// debug schedules the disruptive verbosity toggle and acknowledges
// immediately: applying it synchronously would tear down the listener this
// request arrived on before the response could be written.
func (h *Handler) debug(w http.ResponseWriter, _ *http.Request, req Request) {
	enabled, ok := bodyBool(req.Body, "enabled")
	if !ok {
		writeError(w, http.StatusBadRequest, errProtocol(`body must carry an "enabled" boolean`))
		return
	}
	if h.SetDebug == nil {
		writeError(w, http.StatusBadRequest, errProtocol("debug control is not configured"))
		return
	}
	h.logger.Warn("debug toggle requested, services will restart", "enabled", enabled)
	go h.SetDebug(enabled)
	writeJSON(w, http.StatusAccepted, map[string]bool{"enabled": enabled})
}
