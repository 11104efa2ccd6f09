package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/onnwee/emote-tally/oauth"
	"github.com/onnwee/emote-tally/twitchapi"
)

// stateTTL bounds how long the operator has between /oauth/start and the
// Twitch redirect landing on /oauth/callback.
const stateTTL = 10 * time.Minute

func (h *Handlers) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.cfg.TwitchClientID,
		ClientSecret: h.cfg.TwitchClientSecret,
		Endpoint:     endpoints.Twitch,
		RedirectURL:  h.cfg.TwitchRedirectURI,
		Scopes:       strings.Fields(h.cfg.TwitchScopes),
	}
}

// HandleOAuthStart redirects the operator's browser to the Twitch authorize
// page with a single-use state parameter.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured: set TWITCH_CLIENT_ID and TWITCH_REDIRECT_URI", http.StatusBadRequest)
		return
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "state generation failed", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf)
	if !h.addState(state, time.Now().Add(stateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusTooManyRequests)
		return
	}
	http.Redirect(w, r, h.oauthConfig().AuthCodeURL(state), http.StatusFound)
}

// HandleOAuthCallback exchanges the authorize code, resolves the bot's
// identity, and writes the token file that the chat connection and the
// refresher read.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("authorization denied: %s", errMsg), http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	if !h.takeState(state) {
		http.Error(w, "unknown or expired state", http.StatusBadRequest)
		return
	}
	if h.tokens == nil {
		http.Error(w, "token storage not configured: set TOKEN_FILE", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.oauthHC != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.oauthHC)
	}
	tok, err := h.oauthConfig().Exchange(ctx, code)
	if err != nil {
		h.log.Error("oauth code exchange failed", slog.Any("err", err))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}

	stored := &oauth.StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = twitchapi.ComputeExpiry(0)
	}
	// Identity backfill is best-effort; the refresher fills it in later when
	// validate is flaky right now.
	if info, err := twitchapi.ValidateUserToken(ctx, h.oauthHC, tok.AccessToken); err != nil {
		h.log.Warn("token validate after exchange failed", slog.Any("err", err))
	} else {
		stored.Login = info.Login
		stored.UserID = info.UserID
	}
	if err := h.tokens.Save(stored); err != nil {
		h.log.Error("token save failed", slog.Any("err", err))
		http.Error(w, "token save failed", http.StatusInternalServerError)
		return
	}
	if h.chat != nil {
		h.chat.SetIRCToken(tok.AccessToken)
	}
	h.log.Info("oauth bootstrap complete",
		slog.String("login", stored.Login),
		slog.Time("expires_at", stored.ExpiresAt))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"login":  stored.Login,
		"file":   h.tokens.Path(),
	})
}
