package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// writeJSON encodes v as the response body. Encoding failures after the
// header was written can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
