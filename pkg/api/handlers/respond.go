package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/log"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrSaveNotFound):
		http.Error(w, "Save not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrNoActiveGame):
		http.Error(w, "No game currently loaded", http.StatusConflict)
	case apperrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case apperrors.IsStorage(err):
		log.Error("storage failure: %v", err)
		http.Error(w, "Storage failure", http.StatusBadGateway)
	default:
		log.Error("unexpected error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
