package emotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// Provider fetches emote lists from one upstream service. Implementations
// return records for both the channel-scoped and global emote sets.
type Provider interface {
	Name() string
	ChannelEmotes(ctx context.Context, channelID string) ([]EmoteRecord, error)
	GlobalEmotes(ctx context.Context) ([]EmoteRecord, error)
}

const (
	fetchAttempts  = 3
	fetchRetryBase = 500 * time.Millisecond
)

// errNotFound marks a 404 from an upstream. Channel lookups treat it as "no
// emotes registered" rather than a failure.
var errNotFound = errors.New("not found upstream")

// getJSON fetches url and decodes the JSON body into v. Network errors, 429
// and 5xx responses are retried with exponential backoff plus jitter; a 404
// returns errNotFound immediately and other statuses fail without retry.
func getJSON(ctx context.Context, hc *http.Client, url string, v any) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	attempt := func() (retryable bool, err error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := hc.Do(req)
		if err != nil {
			return true, err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				slog.Warn("close response body", slog.Any("err", cerr))
			}
		}()
		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return false, fmt.Errorf("decode %s: %w", url, err)
			}
			return false, nil
		case resp.StatusCode == http.StatusNotFound:
			return false, errNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return true, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
		default:
			return false, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
		}
	}

	var lastErr error
	for i := 0; i < fetchAttempts; i++ {
		retryable, err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == fetchAttempts-1 {
			break
		}
		backoff := fetchRetryBase*time.Duration(1<<i) + time.Duration(rand.Int63n(int64(fetchRetryBase)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
