package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// eventKeepAlive is the interval between comment lines on an idle stream.
const eventKeepAlive = 25 * time.Second

// handleSessionEvents streams session snapshots as server-sent events:
// the current snapshot first, then every change, until the client leaves
// or the session is closed.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	m, err := s.manager(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
