package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondErrorWith(w, status, message, nil)
}

// RespondErrorWith sends an error response carrying extra top-level fields
// (requires_reauthentication, retryable)
func RespondErrorWith(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	for k, v := range extra {
		body[k] = v
	}
	RespondJSON(w, status, body)
}

// DecodeJSON reads a JSON request body into dst, capped at maxBytes
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
