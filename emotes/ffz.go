package emotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

const ffzBaseURL = "https://api.frankerfacez.com"

// FFZClient fetches emotes from the FrankerFaceZ v1 API.
type FFZClient struct {
	// BaseURL overrides the production API host, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *FFZClient) Name() string { return "ffz" }

func (c *FFZClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return ffzBaseURL
}

type ffzEmote struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Animated is an object of image URLs when the emote is animated and
	// null otherwise.
	Animated map[string]any `json:"animated"`
}

type ffzSet struct {
	Emoticons []ffzEmote `json:"emoticons"`
}

// ChannelEmotes returns every emoticon across the room's sets. Channels
// without an FFZ room yield an empty list.
func (c *FFZClient) ChannelEmotes(ctx context.Context, channelID string) ([]EmoteRecord, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id empty")
	}
	var body struct {
		Sets map[string]ffzSet `json:"sets"`
	}
	err := getJSON(ctx, c.HTTPClient, c.base()+"/v1/room/id/"+channelID, &body)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []EmoteRecord
	for _, set := range body.Sets {
		out = append(out, ffzRecords(set.Emoticons, PlatformFFZ)...)
	}
	return out, nil
}

// GlobalEmotes returns the emoticons from the sets FFZ marks as defaults for
// every channel.
func (c *FFZClient) GlobalEmotes(ctx context.Context) ([]EmoteRecord, error) {
	var body struct {
		DefaultSets []int64           `json:"default_sets"`
		Sets        map[string]ffzSet `json:"sets"`
	}
	if err := getJSON(ctx, c.HTTPClient, c.base()+"/v1/set/global", &body); err != nil {
		return nil, err
	}
	var out []EmoteRecord
	for _, id := range body.DefaultSets {
		set, ok := body.Sets[strconv.FormatInt(id, 10)]
		if !ok {
			continue
		}
		out = append(out, ffzRecords(set.Emoticons, PlatformFFZGlobal)...)
	}
	return out, nil
}

func ffzRecords(in []ffzEmote, platform Platform) []EmoteRecord {
	out := make([]EmoteRecord, 0, len(in))
	for _, e := range in {
		out = append(out, EmoteRecord{
			ID:       strconv.FormatInt(e.ID, 10),
			Code:     e.Name,
			Platform: platform,
			Animated: len(e.Animated) > 0,
		})
	}
	return out
}
