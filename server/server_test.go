package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChat struct {
	connected bool
	lastSeen  time.Time
	ircToken  string
}

func (f *fakeChat) Connected() bool          { return f.connected }
func (f *fakeChat) LastActivity() time.Time  { return f.lastSeen }
func (f *fakeChat) SetIRCToken(token string) { f.ircToken = token }

type fixture struct {
	h     *Handlers
	mux   http.Handler
	chat  *fakeChat
	store *stats.Store
	cfg   *config.Config
	dir   string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		TwitchChannel:     "somechannel",
		TwitchChannelID:   "12345",
		TwitchBotUsername: "emotebot",
		DataDir:           dir,
		StatsFile:         filepath.Join(dir, "stats.json"),
		EmoteCache:        filepath.Join(dir, "emote_cache.json"),
		TopUsersFile:      filepath.Join(dir, "top_users.json"),
		Milestones:        []config.Milestone{{Threshold: 100, Template: config.DefaultMilestoneTemplate}},
		Locale:            "en",
	}
	if mutate != nil {
		mutate(cfg)
	}
	store := stats.NewStore(stats.StoreOptions{
		Path:         cfg.StatsFile,
		TopUsersPath: cfg.TopUsersFile,
		Milestones:   cfg.Milestones,
		Logger:       discardLogger(),
	})
	t.Cleanup(store.Close)
	catalog := emotes.NewCatalog(emotes.CatalogOptions{
		Path:   cfg.EmoteCache,
		Logger: discardLogger(),
	})
	chat := &fakeChat{connected: true, lastSeen: time.Now()}
	h := NewHandlers(HandlerOptions{
		Config:  cfg,
		Store:   store,
		Catalog: catalog,
		Chat:    chat,
		Logger:  discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fixture{h: h, mux: NewMux(ctx, h), chat: chat, store: store, cfg: cfg, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "ok" {
		t.Errorf("body = %q, want ok", got)
	}
}

func TestReadyzTracksChatConnection(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connected: status = %d, want 200", rec.Code)
	}

	f.chat.connected = false
	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected: status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["failed_check"] != "chat" {
		t.Errorf("failed_check = %v, want chat", body["failed_check"])
	}
}

func TestStatusSummary(t *testing.T) {
	f := newFixture(t, nil)
	f.store.IncrementStats("alice", "Kappa", "twitch", false)
	f.store.IncrementStats("bob", "Kappa", "twitch", false)

	rec := f.do(t, http.MethodGet, "/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["channel"] != "somechannel" {
		t.Errorf("channel = %v, want somechannel", body["channel"])
	}
	if body["chat_connected"] != true {
		t.Errorf("chat_connected = %v, want true", body["chat_connected"])
	}
	if got := body["tracked_users"].(float64); got != 2 {
		t.Errorf("tracked_users = %v, want 2", got)
	}
	if _, ok := body["save_queue_depth"]; !ok {
		t.Error("save_queue_depth missing from status")
	}
	catalog, ok := body["catalog"].(map[string]any)
	if !ok {
		t.Fatalf("catalog = %v, want object", body["catalog"])
	}
	if got := catalog["emotes"].(float64); got != 0 {
		t.Errorf("catalog.emotes = %v, want 0", got)
	}
	if _, ok := body["metrics"].(map[string]any); !ok {
		t.Errorf("metrics = %v, want object", body["metrics"])
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/status", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAdminRequiresBearerToken(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AdminToken = "sekret" })

	rec := f.do(t, http.MethodPost, "/admin/save", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth: status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 response missing WWW-Authenticate header")
	}

	rec = f.do(t, http.MethodPost, "/admin/save", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/admin/save", "sekret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(f.cfg.StatsFile); err != nil {
		t.Errorf("stats snapshot not written: %v", err)
	}
}

func TestAdminOpenWithoutConfiguredToken(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/admin/save", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when ADMIN_TOKEN unset", rec.Code)
	}
}

func TestAdminSaveRejectsGet(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/admin/save", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAdminRefreshReportsChange(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/admin/refresh", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["refreshed"] != true {
		t.Errorf("refreshed = %v, want true on first refresh", body["refreshed"])
	}

	// Within the refresh interval the catalog declines to refetch.
	rec = f.do(t, http.MethodPost, "/admin/refresh", "", nil)
	body = decodeBody(t, rec)
	if body["refreshed"] != false {
		t.Errorf("refreshed = %v, want false while fresh", body["refreshed"])
	}
}

func TestAdminExportWritesLeaderboard(t *testing.T) {
	f := newFixture(t, nil)
	f.store.IncrementStats("alice", "Kappa", "twitch", false)

	rec := f.do(t, http.MethodPost, "/admin/export", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(f.cfg.TopUsersFile); err != nil {
		t.Errorf("leaderboard export not written: %v", err)
	}
}

func TestAdminResetWipesStats(t *testing.T) {
	f := newFixture(t, nil)
	f.store.IncrementStats("alice", "Kappa", "twitch", false)

	rec := f.do(t, http.MethodPost, "/admin/reset", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := f.store.TrackedUsers(); got != 0 {
		t.Errorf("tracked users after reset = %d, want 0", got)
	}
}

func TestPlatformToggle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/config/platforms/bttv", "", strings.NewReader(`{"enabled": false}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["platform"] != "bttv" || body["enabled"] != false {
		t.Errorf("response = %v, want platform bttv disabled", body)
	}

	rec = f.do(t, http.MethodGet, "/config", "", nil)
	cfg := decodeBody(t, rec)
	disabled, _ := cfg["disabled_platforms"].([]any)
	found := false
	for _, p := range disabled {
		if p == "bttv" {
			found = true
		}
	}
	if !found {
		t.Errorf("disabled_platforms = %v, want to contain bttv", disabled)
	}
}

func TestPlatformToggleUnknownPlatform(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/config/platforms/myspace", "", strings.NewReader(`{"enabled": true}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPlatformToggleBadBody(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/config/platforms/bttv", "", strings.NewReader(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without enabled field", rec.Code)
	}
}

func TestConfigOmitsSecrets(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.TwitchClientSecret = "super-secret-value"
		c.TwitchOAuthToken = "oauth:hidden-token"
		c.AdminToken = "admin-secret"
		c.TokenEncryptionKey = "key-material"
		c.OpenAIAPIKey = "sk-something"
	})

	rec := f.do(t, http.MethodGet, "/config", "admin-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	raw := rec.Body.String()
	for _, secret := range []string{"super-secret-value", "hidden-token", "admin-secret", "key-material", "sk-something"} {
		if strings.Contains(raw, secret) {
			t.Errorf("config response leaks %q", secret)
		}
	}
	body := decodeBody(t, rec)
	if body["channel"] != "somechannel" {
		t.Errorf("channel = %v, want somechannel", body["channel"])
	}
}

func TestCorrelationIDOnEveryResponse(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("response missing generated X-Correlation-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want caller's corr-123 echoed", got)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "emotetally_") {
		t.Error("metrics output missing emotetally collectors")
	}
}
