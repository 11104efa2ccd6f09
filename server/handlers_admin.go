package server

import (
	"log/slog"
	"net/http"
)

// HandleAdminSave forces an immediate snapshot save.
func (h *Handlers) HandleAdminSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.Save(r.Context()); err != nil {
		h.log.Error("admin save failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleAdminRefresh asks the catalog to refresh. The catalog skips the fetch
// when its data is still fresh, so the response reports whether anything
// actually changed.
func (h *Handlers) HandleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	before := h.catalog.LastUpdate()
	if err := h.catalog.Refresh(r.Context(), h.cfg.TwitchChannelID, h.cfg.TwitchChannel); err != nil {
		h.log.Error("admin refresh failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"refreshed": h.catalog.LastUpdate().After(before),
		"emotes":    h.catalog.Len(),
	})
}

// HandleAdminExport writes the leaderboard export file next to the snapshot.
func (h *Handlers) HandleAdminExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.ExportTopUsers(); err != nil {
		h.log.Error("admin export failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleAdminReset wipes all accumulated stats and persists the empty state.
// The admin gate is the confirmation step here; the CLI flag asks
// interactively instead.
func (h *Handlers) HandleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.Reset(r.Context()); err != nil {
		h.log.Error("admin reset failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	h.log.Info("stats reset via admin endpoint")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
