// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and chat emote listing, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	helixMaxRetries = 3
	helixRetryBase  = 300 * time.Millisecond
)

// HelixClient provides the methods needed for channel resolution and emote
// discovery. Transient failures (429, 5xx) are retried with backoff; a 401
// invalidates the cached app token and grants one extra attempt with a fresh
// one.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("login", login)
	if err := hc.getJSON(ctx, "/helix/users", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// ChatEmote is one entry from the Helix chat emote endpoints. Format holds
// "static" and/or "animated".
type ChatEmote struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Format []string `json:"format"`
}

// GetChannelEmotes lists the custom chat emotes of a broadcaster.
func (hc *HelixClient) GetChannelEmotes(ctx context.Context, broadcasterID string) ([]ChatEmote, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcaster id empty")
	}
	var body struct {
		Data []ChatEmote `json:"data"`
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	if err := hc.getJSON(ctx, "/helix/chat/emotes", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetGlobalEmotes lists the Twitch global chat emotes.
func (hc *HelixClient) GetGlobalEmotes(ctx context.Context) ([]ChatEmote, error) {
	var body struct {
		Data []ChatEmote `json:"data"`
	}
	if err := hc.getJSON(ctx, "/helix/chat/emotes/global", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// getJSON performs a Helix GET with auth headers, retry, and JSON decoding.
func (hc *HelixClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	attempt := 0
	refreshed := false
	var lastErr error
	for {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv"+path, nil)
		if err != nil {
			return err
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := hc.http().Do(req)
		if err != nil {
			lastErr = err
		} else {
			done, err := hc.consume(resp, out, &refreshed)
			if done {
				return err
			}
			if err == nil {
				// 401 path: token invalidated, retry immediately without
				// consuming a retry slot.
				continue
			}
			lastErr = err
		}

		attempt++
		if attempt >= helixMaxRetries {
			return lastErr
		}
		backoff := helixRetryBase * time.Duration(1<<attempt)
		backoff += time.Duration(rand.Int63n(int64(helixRetryBase)))
		if ra, ok := retryAfter(resp); ok && ra < backoff {
			backoff = ra
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// consume interprets one response. done=true means the request finished
// (successfully or permanently); done=false with nil error means "retry now"
// (the 401 refresh path); done=false with an error means a transient failure.
func (hc *HelixClient) consume(resp *http.Response, out any, refreshed *bool) (bool, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return true, err
		}
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized && !*refreshed:
		*refreshed = true
		hc.AppTokenSource.Invalidate()
		io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("helix request failed: %s: %s", resp.Status, string(b))
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return true, fmt.Errorf("helix request failed: %s: %s", resp.Status, string(b))
	}
}

// retryAfter reads a 429 Retry-After hint in seconds, if any.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}
