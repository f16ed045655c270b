package handler

import (
	"encoding/json"
	"net/http"
)

type pinger interface {
	Ping() error
}

// Health returns a health check handler that verifies the artifact store is
// reachable.
func Health(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		if err := store.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
