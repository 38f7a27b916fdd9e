package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// eventsResponse is the JSON body of GET /events.
type eventsResponse struct {
	Count  int                 `json:"count"`
	Events []audit.EventRecord `json:"events"`
}

// eventsHandler serves the most recent events, oldest first.
// Query: limit=N (default 100, max 1000).
func eventsHandler(reader audit.EventReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := defaultEventLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxEventLimit)
		}

		events := reader.Recent(limit)
		if events == nil {
			events = []audit.EventRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(eventsResponse{Count: len(events), Events: events}); err != nil {
			LoggerFromContext(r.Context()).Error("failed to encode events", "error", err)
		}
	})
}
