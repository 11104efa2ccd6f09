// Package emotes owns the merged emote lookup table: records pulled from four
// upstream providers (Twitch, 7TV, BetterTTV, FrankerFaceZ), refreshed on an
// interval and persisted as a snapshot between runs.
package emotes

// Platform identifies the provider and scope an emote record came from.
type Platform string

const (
	PlatformTwitch       Platform = "twitch"
	PlatformTwitchGlobal Platform = "twitch-global"
	Platform7TVChannel   Platform = "7tv-channel"
	Platform7TVGlobal    Platform = "7tv-global"
	PlatformBTTV         Platform = "bttv"
	PlatformBTTVGlobal   Platform = "bttv-global"
	PlatformFFZ          Platform = "ffz"
	PlatformFFZGlobal    Platform = "ffz-global"
)

// Platforms returns every known platform in canonical order.
func Platforms() []Platform {
	return []Platform{
		PlatformTwitch, PlatformTwitchGlobal,
		Platform7TVChannel, Platform7TVGlobal,
		PlatformBTTV, PlatformBTTVGlobal,
		PlatformFFZ, PlatformFFZGlobal,
	}
}

// PlatformNames returns the canonical platform strings, for metric labels and
// status payloads.
func PlatformNames() []string {
	ps := Platforms()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// ParsePlatform maps a string from config or the admin API to a known
// platform.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms() {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// EmoteRecord is one catalog entry. Code is the literal chat token.
type EmoteRecord struct {
	ID       string   `json:"id"`
	Code     string   `json:"code"`
	Platform Platform `json:"platform"`
	Animated bool     `json:"animated"`
}
