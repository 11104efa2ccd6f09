// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Twitch chat + Helix), use Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMilestoneTemplate is applied to thresholds without a configured
// message. {username} and {count} are substituted at notification time.
const DefaultMilestoneTemplate = "PogChamp @{username} has now used {count} emotes!"

// DefaultTopUserTemplate renders the single top-user file. Recognized
// placeholders: {username}, {total}, {rank}, {favorite_emote}.
const DefaultTopUserTemplate = "{username} - {total} emotes (favorite: {favorite_emote})"

// Milestone pairs a cumulative-count threshold with its celebration template.
type Milestone struct {
	Threshold int64
	Template  string
}

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchChannelID    string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Token storage
	TokenFile          string
	TokenEncryptionKey string

	// Storage
	DataDir       string
	StatsFile     string
	EmoteCache    string
	TopUserFile   string
	TopUsersFile  string
	TopUserFormat string

	// Intervals
	EmoteRefreshInterval time.Duration
	StatsSaveInterval    time.Duration
	IdleUnloadAfter      time.Duration
	RateLimitSweepEvery  time.Duration

	// Milestones, in configured order
	Milestones []Milestone

	// Emote platforms disabled at startup (runtime-togglable later)
	DisabledPlatforms []string

	// Locale for number grouping in chat replies
	Locale string

	// AI celebration text
	AIEnabled      bool
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	OpenAIMaxToken int

	// Ops HTTP server
	HTTPAddr   string
	AdminToken string
}

// Load reads environment variables and applies defaults. It doesn't fail if
// Twitch creds are missing; use Validate() before connecting to chat. Missing
// optional variables disable features (e.g., AI celebrations).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchChannelID = os.Getenv("TWITCH_CHANNEL_ID")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// default scopes for chat bot
		cfg.TwitchScopes = "chat:read chat:edit"
	}

	cfg.TokenFile = os.Getenv("TOKEN_FILE")
	cfg.TokenEncryptionKey = os.Getenv("TOKEN_ENCRYPTION_KEY")

	// Storage
	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.StatsFile = pathOr("STATS_FILE", cfg.DataDir+"/stats.json")
	cfg.EmoteCache = pathOr("EMOTE_CACHE_FILE", cfg.DataDir+"/emote_cache.json")
	cfg.TopUserFile = pathOr("TOP_USER_FILE", cfg.DataDir+"/top_user.txt")
	cfg.TopUsersFile = pathOr("TOP_USERS_FILE", cfg.DataDir+"/top_users.json")
	cfg.TopUserFormat = os.Getenv("TOP_USER_TEMPLATE")
	if cfg.TopUserFormat == "" {
		cfg.TopUserFormat = DefaultTopUserTemplate
	}

	// Intervals
	cfg.EmoteRefreshInterval = durationOr("EMOTE_REFRESH_INTERVAL", 30*time.Minute)
	cfg.StatsSaveInterval = durationOr("STATS_SAVE_INTERVAL", 5*time.Minute)
	cfg.IdleUnloadAfter = durationOr("IDLE_UNLOAD_AFTER", 15*time.Minute)
	cfg.RateLimitSweepEvery = durationOr("RATE_LIMIT_SWEEP_INTERVAL", time.Hour)

	ms, err := parseMilestones(os.Getenv("MILESTONES"), os.Getenv("MILESTONE_MESSAGES"))
	if err != nil {
		return nil, err
	}
	cfg.Milestones = ms

	if v := os.Getenv("DISABLED_PLATFORMS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.DisabledPlatforms = append(cfg.DisabledPlatforms, p)
			}
		}
	}

	cfg.Locale = os.Getenv("LOCALE")
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}

	// AI
	cfg.AIEnabled = boolOr("AI_ENABLED", false)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	cfg.OpenAIMaxToken = intOr("OPENAI_MAX_TOKENS", 60)

	// Server
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	return cfg, nil
}

// Validate checks the fields required before joining chat and calling Helix.
func (c *Config) Validate() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && c.TokenFile == "" {
		return fmt.Errorf("missing twitch token: set TWITCH_OAUTH_TOKEN or TOKEN_FILE")
	}
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing helix env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// parseMilestones builds the threshold list from a comma-separated MILESTONES
// value and an optional ;-separated MILESTONE_MESSAGES list matched by
// position. Empty input yields the default ladder.
func parseMilestones(raw, messages string) ([]Milestone, error) {
	thresholds := []int64{100, 500, 1000, 5000, 10000}
	if raw != "" {
		thresholds = thresholds[:0]
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid MILESTONES entry %q: want positive integer", part)
			}
			thresholds = append(thresholds, n)
		}
	}
	var templates []string
	if messages != "" {
		templates = strings.Split(messages, ";")
	}
	out := make([]Milestone, 0, len(thresholds))
	for i, n := range thresholds {
		tpl := DefaultMilestoneTemplate
		if i < len(templates) && strings.TrimSpace(templates[i]) != "" {
			tpl = strings.TrimSpace(templates[i])
		}
		out = append(out, Milestone{Threshold: n, Template: tpl})
	}
	return out, nil
}

func pathOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intOr(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func boolOr(key string, def bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return def
}
