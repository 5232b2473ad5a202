package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

type protocolError string

func (e protocolError) Error() string { return string(e) }

func errProtocol(msg string) error { return protocolError(msg) }

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func bodyString(body map[string]any, key string) (string, bool) {
	if body == nil {
		return "", false
	}
	value, ok := body[key].(string)
	return value, ok
}

func bodyBool(body map[string]any, key string) (bool, bool) {
	if body == nil {
		return false, false
	}
	value, ok := body[key].(bool)
	return value, ok
}

var errBodyRequired = errors.New("json request body is required")
