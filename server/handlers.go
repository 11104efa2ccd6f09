package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/oauth"
	"github.com/onnwee/emote-tally/stats"
)

// Pending OAuth states are capped so an unauthenticated /oauth/start flood
// cannot exhaust memory.
const maxPendingStates = 1000

// ChatLink is the slice of the chat bot the HTTP surface needs.
type ChatLink interface {
	Connected() bool
	LastActivity() time.Time
	SetIRCToken(token string)
}

// HandlerOptions carries the dependencies for NewHandlers.
type HandlerOptions struct {
	Config  *config.Config
	Store   *stats.Store
	Catalog *emotes.Catalog
	Chat    ChatLink
	// Tokens is nil when TOKEN_FILE is not configured; the OAuth bootstrap
	// endpoints then refuse to run.
	Tokens *oauth.Store
	Events *Hub
	// OAuthHTTPClient overrides the client used for the code exchange and
	// token validation. Tests point it at a local server.
	OAuthHTTPClient *http.Client
	Logger          *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg     *config.Config
	store   *stats.Store
	catalog *emotes.Catalog
	chat    ChatLink
	tokens  *oauth.Store
	events  *Hub
	oauthHC *http.Client
	log     *slog.Logger
	started time.Time

	stateMu sync.Mutex
	states  map[string]time.Time
}

func NewHandlers(opts HandlerOptions) *Handlers {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "http"))
	}
	events := opts.Events
	if events == nil {
		events = NewHub(log)
	}
	return &Handlers{
		cfg:     opts.Config,
		store:   opts.Store,
		catalog: opts.Catalog,
		chat:    opts.Chat,
		tokens:  opts.Tokens,
		events:  events,
		oauthHC: opts.OAuthHTTPClient,
		log:     log,
		started: time.Now(),
		states:  make(map[string]time.Time),
	}
}

// Events returns the milestone hub so main can hand it to the notifier.
func (h *Handlers) Events() *Hub { return h.events }

// addState registers a pending OAuth state. Expired entries are swept on the
// way in so the map cannot grow without bound.
func (h *Handlers) addState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	now := time.Now()
	for s, exp := range h.states {
		if now.After(exp) {
			delete(h.states, s)
		}
	}
	if len(h.states) >= maxPendingStates {
		return false
	}
	h.states[state] = expiry
	return true
}

// takeState consumes a pending state, reporting whether it was valid. Lookup
// and delete are one step so a state can never be replayed.
func (h *Handlers) takeState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
