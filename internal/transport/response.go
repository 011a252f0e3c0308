package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/avinash-eye/image-processor/internal/domain"
)

func writeError(w http.ResponseWriter, status int, title, message string) {
	if title == "" {
		title = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   title,
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
