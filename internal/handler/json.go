package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/mimitask/internal/docstore"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps document store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrInvalidWrite):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
