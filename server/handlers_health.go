package server

import "net/http"

// HandleHealthz answers liveness probes. The process serving the request is
// the health signal; chat connectivity belongs to readiness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz answers readiness probes: ready means the IRC session is up.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil || !h.chat.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "chat",
			"error":        "chat disconnected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
