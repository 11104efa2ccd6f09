package server

import (
	"net/http"
	"time"
)

// HandleStatus returns a status summary: uptime, chat state, catalog shape,
// tracked users, save queue depth, and the persisted counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
		"channel":          h.cfg.TwitchChannel,
		"chat_connected":   h.chat != nil && h.chat.Connected(),
		"tracked_users":    h.store.TrackedUsers(),
		"save_queue_depth": h.store.QueueDepth(),
		"metrics":          h.store.MetricsSnapshot(),
	}
	if h.chat != nil {
		resp["last_chat_activity"] = h.chat.LastActivity().UTC().Format(time.RFC3339)
	}

	catalog := map[string]any{
		"emotes":             h.catalog.Len(),
		"platforms":          h.catalog.CountsByPlatform(),
		"disabled_platforms": h.catalog.DisabledPlatforms(),
	}
	if last := h.catalog.LastUpdate(); !last.IsZero() {
		catalog["last_update"] = last.UTC().Format(time.RFC3339)
	}
	resp["catalog"] = catalog

	writeJSON(w, http.StatusOK, resp)
}
