package oauth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/onnwee/emote-tally/twitchapi"
)

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	Store        *Store
	ClientID     string
	ClientSecret string
	// Window triggers a refresh when the token's remaining lifetime drops
	// below it. Default 15m.
	Window time.Duration
	// ValidateEvery bounds how often the token is revalidated against
	// id.twitch.tv. Default 1h, which is what Twitch expects from a
	// connected bot.
	ValidateEvery time.Duration
	// OnToken receives the new access token after a successful refresh.
	OnToken func(accessToken string)
	// HTTPClient overrides the client used for validate and the refresh
	// grant. Tests point it at a local server.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Refresher keeps the stored user token usable: Check revalidates on a fixed
// cadence and runs the oauth2 refresh grant when expiry is near or Twitch
// rejects the token. One Check pass runs as a scheduler task.
type Refresher struct {
	store         *Store
	conf          *oauth2.Config
	window        time.Duration
	validateEvery time.Duration
	onToken       func(string)
	hc            *http.Client
	log           *slog.Logger

	mu            sync.Mutex
	lastValidated time.Time
}

func NewRefresher(opts RefresherOptions) *Refresher {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "oauth"))
	}
	window := opts.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	validateEvery := opts.ValidateEvery
	if validateEvery <= 0 {
		validateEvery = time.Hour
	}
	return &Refresher{
		store: opts.Store,
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoints.Twitch,
		},
		window:        window,
		validateEvery: validateEvery,
		onToken:       opts.OnToken,
		hc:            opts.HTTPClient,
		log:           log,
	}
}

// Check runs one refresh pass: load, optionally revalidate, refresh when the
// token is near expiry or invalid. A missing token file is not an error, the
// bootstrap flow just hasn't run yet.
func (r *Refresher) Check(ctx context.Context) error {
	tok, err := r.store.Load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug("no token file yet, skipping refresh check")
			return nil
		}
		return fmt.Errorf("load token: %w", err)
	}

	needRefresh := time.Until(tok.ExpiresAt) <= r.window

	if !needRefresh && r.shouldValidate() {
		info, err := twitchapi.ValidateUserToken(ctx, r.hc, tok.AccessToken)
		switch {
		case errors.Is(err, twitchapi.ErrTokenInvalid):
			r.log.Warn("stored token rejected by twitch, refreshing")
			needRefresh = true
		case err != nil:
			// Flaky validate is not grounds for burning a refresh grant.
			r.log.Warn("token validation failed", slog.Any("err", err))
		default:
			r.markValidated()
			if tok.Login == "" || tok.UserID == "" {
				tok.Login, tok.UserID = info.Login, info.UserID
				if err := r.store.Save(tok); err != nil {
					r.log.Warn("persist token identity", slog.Any("err", err))
				}
			}
		}
	}
	if !needRefresh {
		return nil
	}
	return r.refresh(ctx, tok)
}

func (r *Refresher) refresh(ctx context.Context, tok *StoredToken) error {
	if tok.RefreshToken == "" {
		return errors.New("stored token has no refresh token; re-run the oauth bootstrap")
	}
	if r.hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.hc)
	}
	// Seed only the refresh token so the source performs the refresh grant
	// instead of handing back a cached access token.
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	newTok, err := src.Token()
	if err != nil {
		return fmt.Errorf("refresh token grant: %w", err)
	}
	next := &StoredToken{
		AccessToken:  newTok.AccessToken,
		RefreshToken: newTok.RefreshToken,
		ExpiresAt:    newTok.Expiry,
		Login:        tok.Login,
		UserID:       tok.UserID,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = twitchapi.ComputeExpiry(0)
	}
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}
	r.markValidated()
	if r.onToken != nil {
		r.onToken(next.AccessToken)
	}
	r.log.Info("twitch user token refreshed", slog.Time("expires_at", next.ExpiresAt))
	return nil
}

func (r *Refresher) shouldValidate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastValidated) >= r.validateEvery
}

func (r *Refresher) markValidated() {
	r.mu.Lock()
	r.lastValidated = time.Now()
	r.mu.Unlock()
}
