package emotes

import (
	"context"
	"slices"

	"github.com/onnwee/emote-tally/twitchapi"
)

// TwitchProvider adapts the Helix chat emote endpoints to the Provider shape.
type TwitchProvider struct {
	Helix *twitchapi.HelixClient
}

func (p *TwitchProvider) Name() string { return "twitch" }

func (p *TwitchProvider) ChannelEmotes(ctx context.Context, channelID string) ([]EmoteRecord, error) {
	emotes, err := p.Helix.GetChannelEmotes(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return chatEmoteRecords(emotes, PlatformTwitch), nil
}

func (p *TwitchProvider) GlobalEmotes(ctx context.Context) ([]EmoteRecord, error) {
	emotes, err := p.Helix.GetGlobalEmotes(ctx)
	if err != nil {
		return nil, err
	}
	return chatEmoteRecords(emotes, PlatformTwitchGlobal), nil
}

func chatEmoteRecords(in []twitchapi.ChatEmote, platform Platform) []EmoteRecord {
	out := make([]EmoteRecord, 0, len(in))
	for _, e := range in {
		out = append(out, EmoteRecord{
			ID:       e.ID,
			Code:     e.Name,
			Platform: platform,
			Animated: slices.Contains(e.Format, "animated"),
		})
	}
	return out
}
