package middleware

import (
	"encoding/json"
	"net/http"

	"process-calendar-api/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, status, map[string]string{
		"detail":    detail,
		"requestId": logging.RequestID(r.Context()),
	})
}
