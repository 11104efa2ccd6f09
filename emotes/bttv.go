package emotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const bttvBaseURL = "https://api.betterttv.net"

// BTTVClient fetches emotes from the BetterTTV cached API.
type BTTVClient struct {
	// BaseURL overrides the production API host, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *BTTVClient) Name() string { return "bttv" }

func (c *BTTVClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return bttvBaseURL
}

type bttvEmote struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ImageType string `json:"imageType"`
	Animated  bool   `json:"animated"`
}

func (e bttvEmote) animated() bool {
	return e.Animated || e.ImageType == "gif"
}

// ChannelEmotes merges a channel's own uploads with its shared emotes.
// Channels unknown to BetterTTV yield an empty list.
func (c *BTTVClient) ChannelEmotes(ctx context.Context, channelID string) ([]EmoteRecord, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id empty")
	}
	var body struct {
		ChannelEmotes []bttvEmote `json:"channelEmotes"`
		SharedEmotes  []bttvEmote `json:"sharedEmotes"`
	}
	err := getJSON(ctx, c.HTTPClient, c.base()+"/3/cached/users/twitch/"+channelID, &body)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := bttvRecords(body.ChannelEmotes, PlatformBTTV)
	out = append(out, bttvRecords(body.SharedEmotes, PlatformBTTV)...)
	return out, nil
}

func (c *BTTVClient) GlobalEmotes(ctx context.Context) ([]EmoteRecord, error) {
	var body []bttvEmote
	if err := getJSON(ctx, c.HTTPClient, c.base()+"/3/cached/emotes/global", &body); err != nil {
		return nil, err
	}
	return bttvRecords(body, PlatformBTTVGlobal), nil
}

func bttvRecords(in []bttvEmote, platform Platform) []EmoteRecord {
	out := make([]EmoteRecord, 0, len(in))
	for _, e := range in {
		out = append(out, EmoteRecord{ID: e.ID, Code: e.Code, Platform: platform, Animated: e.animated()})
	}
	return out
}
