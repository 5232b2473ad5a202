package api

import (
	"errors"
	"net/http"

	"sentrycam/internal/auth"
)

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request, _ Request) {
	names, err := h.Users.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("unable to list users"))
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": names})
}

func (h *Handler) addUser(w http.ResponseWriter, r *http.Request, req Request) {
	username, _ := bodyString(req.Body, "username")
	password, _ := bodyString(req.Body, "password")
	if req.Body == nil {
		writeError(w, http.StatusBadRequest, errBodyRequired)
		return
	}
	if err := h.Users.AddUser(r.Context(), username, password); err != nil {
		writeUserError(w, err)
		return
	}
	h.logger.Info("user added", "username", auth.NormalizeUsername(username))
	writeJSON(w, http.StatusCreated, map[string]string{"username": auth.NormalizeUsername(username)})
}

func (h *Handler) editUser(w http.ResponseWriter, r *http.Request, req Request) {
	if len(req.Rest) == 0 {
		writeError(w, http.StatusBadRequest, errProtocol("username path segment is required"))
		return
	}
	username := req.Rest[0]
	password, _ := bodyString(req.Body, "password")
	if req.Body == nil {
		writeError(w, http.StatusBadRequest, errBodyRequired)
		return
	}
	if err := h.Users.SetPassword(r.Context(), username, password); err != nil {
		writeUserError(w, err)
		return
	}
	h.logger.Info("user password changed", "username", auth.NormalizeUsername(username))
	writeJSON(w, http.StatusOK, map[string]string{"username": auth.NormalizeUsername(username)})
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request, req Request) {
	if len(req.Rest) == 0 {
		writeError(w, http.StatusBadRequest, errProtocol("username path segment is required"))
		return
	}
	username := req.Rest[0]
	if err := h.Users.RemoveUser(r.Context(), username); err != nil {
		writeUserError(w, err)
		return
	}
	h.logger.Info("user removed", "username", auth.NormalizeUsername(username))
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, errors.New("credential store failure"))
	}
}
