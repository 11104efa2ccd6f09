// Package chat owns the Twitch IRC connection and the message pipeline.
//
// Bot wraps the gempir IRC client: it joins the configured channel, discards
// the bot's own messages, routes "!" commands to the dispatcher, and feeds
// everything else through the Classifier. The Classifier tokenizes each line,
// looks tokens up in the emote catalog, and forwards detections to the stats
// store, which reports any milestone crossings. The Notifier turns those
// crossings into locale-formatted celebration lines sent back to chat and
// mirrored to the ops server's event feed.
//
// Credentials: the IRC client needs a bot login and a user access token with
// chat:read/chat:edit scopes. The token comes from TWITCH_OAUTH_TOKEN or from
// the token file managed by the oauth package; SetIRCToken swaps a rotated
// token in before the next reconnect.
package chat
