package emotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const sevenTVBaseURL = "https://7tv.io"

// SevenTVClient fetches emotes from the 7TV v3 API.
type SevenTVClient struct {
	// BaseURL overrides the production API host, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *SevenTVClient) Name() string { return "7tv" }

func (c *SevenTVClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return sevenTVBaseURL
}

type sevenTVEmote struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data struct {
		Animated bool `json:"animated"`
	} `json:"data"`
}

// ChannelEmotes returns the active emote set for a Twitch channel. Channels
// not registered with 7TV yield an empty list.
func (c *SevenTVClient) ChannelEmotes(ctx context.Context, channelID string) ([]EmoteRecord, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id empty")
	}
	var body struct {
		EmoteSet struct {
			Emotes []sevenTVEmote `json:"emotes"`
		} `json:"emote_set"`
	}
	err := getJSON(ctx, c.HTTPClient, c.base()+"/v3/users/twitch/"+channelID, &body)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sevenTVRecords(body.EmoteSet.Emotes, Platform7TVChannel), nil
}

func (c *SevenTVClient) GlobalEmotes(ctx context.Context) ([]EmoteRecord, error) {
	var body struct {
		Emotes []sevenTVEmote `json:"emotes"`
	}
	if err := getJSON(ctx, c.HTTPClient, c.base()+"/v3/emote-sets/global", &body); err != nil {
		return nil, err
	}
	return sevenTVRecords(body.Emotes, Platform7TVGlobal), nil
}

func sevenTVRecords(in []sevenTVEmote, platform Platform) []EmoteRecord {
	out := make([]EmoteRecord, 0, len(in))
	for _, e := range in {
		out = append(out, EmoteRecord{ID: e.ID, Code: e.Name, Platform: platform, Animated: e.Data.Animated})
	}
	return out
}
