package api

import (
	"encoding/json"
	"net/http"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Status maps an error kind to the HTTP status returned for it.
func Status(err error) int {
	switch fault.KindOf(err) {
	case fault.Invalid:
		return http.StatusBadRequest
	case fault.Auth:
		return http.StatusUnauthorized
	case fault.Permission:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Malformed:
		return http.StatusBadGateway
	case fault.Transient, fault.Config:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Type: "error", Message: msg})
}
