package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
)

// cmdStats replies with a user's total, favorite emote, and first-seen date.
// Without an argument it reports on the sender.
func (d *Dispatcher) cmdStats(ctx context.Context, req request) string {
	target := req.username
	if len(req.args) > 0 {
		target = strings.TrimPrefix(req.args[0], "@")
	}
	u, ok := d.store.GetUserStats(target)
	if !ok {
		return fmt.Sprintf("No emote stats recorded for %s yet.", target)
	}
	firstSeen := time.UnixMilli(u.FirstSeen).Format("Jan 2, 2006")
	return fmt.Sprintf("%s has used %s emotes (favorite: %s, tracking since %s).",
		target, d.formatInt(u.Total), stats.MostUsedEmote(u.Emotes), firstSeen)
}

// topListSize keeps the leaderboard reply inside one IRC line.
const topListSize = 5

func (d *Dispatcher) cmdTop(ctx context.Context, req request) string {
	top := d.store.TopUsers(topListSize)
	if len(top) == 0 {
		return "Nobody has used any emotes yet. Be the first!"
	}
	parts := make([]string, 0, len(top))
	for i, entry := range top {
		parts = append(parts, fmt.Sprintf("%d. %s (%s)", i+1, entry.Username, d.formatInt(entry.Total)))
	}
	return "Top emoters: " + strings.Join(parts, " | ")
}

func (d *Dispatcher) cmdEmote(ctx context.Context, req request) string {
	if len(req.args) == 0 {
		return "Usage: !emote <code>"
	}
	code := req.args[0]
	rec, ok := d.catalog.Info(code)
	if !ok {
		return fmt.Sprintf("%s is not a known emote in this channel.", code)
	}
	kind := "a static"
	if rec.Animated {
		kind = "an animated"
	}
	return fmt.Sprintf("%s is %s emote from %s.", rec.Code, kind, rec.Platform)
}

func (d *Dispatcher) cmdRank(ctx context.Context, req request) string {
	rank, tracked, ok := d.store.GetUserRank(req.username)
	if !ok {
		return fmt.Sprintf("%s, you have no recorded emotes yet. Get spamming!", req.username)
	}
	return fmt.Sprintf("%s, you are #%d of %d tracked emoters.", req.username, rank, tracked)
}

func (d *Dispatcher) cmdPlatforms(ctx context.Context, req request) string {
	sums := d.store.GetPlatformStats()
	parts := make([]string, 0, len(sums))
	for _, p := range emotes.Platforms() {
		if n := sums[string(p)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", p, d.formatInt(n)))
		}
	}
	if len(parts) == 0 {
		return "No emotes detected from any platform yet."
	}
	return "Emotes by platform: " + strings.Join(parts, " | ")
}

func (d *Dispatcher) cmdHelp(ctx context.Context, req request) string {
	if len(req.args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(req.args[0], "!"))
		canonical, ok := d.aliases[word]
		if !ok {
			return fmt.Sprintf("No such command: %s", word)
		}
		spec := d.specs[canonical]
		return fmt.Sprintf("%s - %s", spec.usage, spec.description)
	}
	names := make([]string, 0, len(d.order))
	for _, name := range d.order {
		if d.specs[name].adminOnly {
			continue
		}
		names = append(names, "!"+name)
	}
	return "Commands: " + strings.Join(names, ", ") + ". Try !help <command> for details."
}

func (d *Dispatcher) cmdMetrics(ctx context.Context, req request) string {
	m := d.store.MetricsSnapshot()
	lastSave := "never"
	if m.LastSaveAttempt > 0 {
		lastSave = time.UnixMilli(m.LastSaveAttempt).Format("15:04:05 MST")
	}
	return fmt.Sprintf("Messages: %s | Emotes: %s | Commands: %s | Saves: %s ok, %s failed | Last save: %s",
		d.formatInt(m.MessagesProcessed), d.formatInt(m.EmotesDetected), d.formatInt(m.CommandsExecuted),
		d.formatInt(m.TotalSaves), d.formatInt(m.FailedSaves), lastSave)
}
