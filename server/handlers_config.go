package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/onnwee/emote-tally/emotes"
)

// HandleConfig returns the sanitized running configuration. Credentials and
// keys never appear here; only values a dashboard can safely display.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	milestones := make([]int64, 0, len(h.cfg.Milestones))
	for _, m := range h.cfg.Milestones {
		milestones = append(milestones, m.Threshold)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":                h.cfg.TwitchChannel,
		"bot_username":           h.cfg.TwitchBotUsername,
		"data_dir":               h.cfg.DataDir,
		"stats_file":             h.cfg.StatsFile,
		"emote_refresh_interval": h.cfg.EmoteRefreshInterval.String(),
		"stats_save_interval":    h.cfg.StatsSaveInterval.String(),
		"idle_unload_after":      h.cfg.IdleUnloadAfter.String(),
		"milestones":             milestones,
		"locale":                 h.cfg.Locale,
		"ai_enabled":             h.cfg.AIEnabled,
		"platforms":              emotes.PlatformNames(),
		"disabled_platforms":     h.catalog.DisabledPlatforms(),
	})
}

// HandlePlatformToggle enables or disables one emote platform at runtime:
// PUT /config/platforms/{platform} with body {"enabled": bool}. Disabling a
// platform stops its emotes from matching without touching the catalog data,
// so re-enabling is instant.
func (h *Handlers) HandlePlatformToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/config/platforms/")
	platform, ok := emotes.ParsePlatform(name)
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
		return
	}
	h.catalog.SetPlatformEnabled(platform, *body.Enabled)
	h.log.Info("platform toggled",
		slog.String("platform", string(platform)),
		slog.Bool("enabled", *body.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{
		"platform": string(platform),
		"enabled":  *body.Enabled,
	})
}
