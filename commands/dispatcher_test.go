package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type captureReplier struct {
	lines []string
}

func (c *captureReplier) Say(text string) { c.lines = append(c.lines, text) }

// fakeCatalog resolves emote codes from a fixed table.
type fakeCatalog map[string]emotes.EmoteRecord

func (f fakeCatalog) Info(code string) (emotes.EmoteRecord, bool) {
	rec, ok := f[code]
	return rec, ok
}

// panicCatalog simulates the catalog blowing up inside a handler.
type panicCatalog struct{}

func (panicCatalog) Info(string) (emotes.EmoteRecord, bool) { panic("catalog gone") }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *stats.Store {
	t.Helper()
	dir := t.TempDir()
	s := stats.NewStore(stats.StoreOptions{
		Path:         filepath.Join(dir, "stats.json"),
		TopUserPath:  filepath.Join(dir, "top_user.txt"),
		TopUsersPath: filepath.Join(dir, "top_users.json"),
		Milestones:   []config.Milestone{},
		Logger:       discardLogger(),
	})
	t.Cleanup(s.Close)
	return s
}

var testCatalog = fakeCatalog{
	"Kappa":    {ID: "25", Code: "Kappa", Platform: emotes.Platform7TVChannel},
	"catJAM":   {ID: "26", Code: "catJAM", Platform: emotes.PlatformBTTV, Animated: true},
	"PogChamp": {ID: "88", Code: "PogChamp", Platform: emotes.PlatformTwitch},
}

func newTestDispatcher(t *testing.T, store *stats.Store, catalog CatalogInfo) (*Dispatcher, *captureReplier) {
	t.Helper()
	if store == nil {
		store = newTestStore(t)
	}
	if catalog == nil {
		catalog = testCatalog
	}
	replier := &captureReplier{}
	d := NewDispatcher(Options{
		Store:       store,
		Catalog:     catalog,
		Replier:     replier,
		Broadcaster: "streamer",
		Locale:      "en",
		Logger:      discardLogger(),
	})
	return d, replier
}

// grantToken refills a user's rate limiter so admission tests don't have to
// sleep through the real 1s window.
func grantToken(d *Dispatcher, username string) {
	d.mu.Lock()
	if ul, ok := d.limiters[username]; ok {
		ul.lim = rate.NewLimiter(rate.Every(perUserRate), 1)
	}
	d.mu.Unlock()
}

// resetAdmission refills the rate token and clears cooldown stamps so
// back-to-back Handle calls in one test all run.
func resetAdmission(d *Dispatcher, username string) {
	grantToken(d, username)
	d.mu.Lock()
	for key := range d.cooldowns {
		if strings.HasPrefix(key, username+"|") {
			delete(d.cooldowns, key)
		}
	}
	d.mu.Unlock()
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in       string
		wantWord string
		wantArgs []string
	}{
		{"!stats", "stats", nil},
		{"!STATS  bob ", "stats", []string{"bob"}},
		{"!emote Kappa extra", "emote", []string{"Kappa", "extra"}},
		{"hello world", "", nil},
		{"   ", "", nil},
	}
	for _, tc := range cases {
		word, args := splitCommand(tc.in)
		if word != tc.wantWord {
			t.Errorf("splitCommand(%q) word = %q, want %q", tc.in, word, tc.wantWord)
		}
		if len(args) != len(tc.wantArgs) {
			t.Errorf("splitCommand(%q) args = %v, want %v", tc.in, args, tc.wantArgs)
			continue
		}
		for i := range args {
			if args[i] != tc.wantArgs[i] {
				t.Errorf("splitCommand(%q) args = %v, want %v", tc.in, args, tc.wantArgs)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	d.Handle(context.Background(), "u1", "alice", "!bogus")
	if len(replier.lines) != 1 || replier.lines[0] != unknownReply {
		t.Errorf("lines = %v, want unknown-command reply", replier.lines)
	}
}

func TestStatsCommand(t *testing.T) {
	store := newTestStore(t)
	store.IncrementStats("alice", "Kappa", "7tv-channel", false)
	store.IncrementStats("alice", "Kappa", "7tv-channel", false)
	store.IncrementStats("alice", "PogChamp", "twitch", false)
	d, replier := newTestDispatcher(t, store, nil)

	d.Handle(context.Background(), "u1", "alice", "!stats")

	if len(replier.lines) != 1 {
		t.Fatalf("lines = %v", replier.lines)
	}
	u, _ := store.GetUserStats("alice")
	want := fmt.Sprintf("alice has used 3 emotes (favorite: Kappa, tracking since %s).",
		time.UnixMilli(u.FirstSeen).Format("Jan 2, 2006"))
	if replier.lines[0] != want {
		t.Errorf("reply = %q, want %q", replier.lines[0], want)
	}
}

func TestStatsCommandForOtherUser(t *testing.T) {
	store := newTestStore(t)
	store.IncrementStats("bob", "", "", true)
	d, replier := newTestDispatcher(t, store, nil)

	d.Handle(context.Background(), "u1", "alice", "!stats @bob")

	if len(replier.lines) != 1 || !strings.HasPrefix(replier.lines[0], "bob has used 1 emotes") {
		t.Errorf("reply = %v", replier.lines)
	}
}

func TestStatsCommandUnknownUser(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	d.Handle(context.Background(), "u1", "alice", "!stats ghost")
	if len(replier.lines) != 1 || replier.lines[0] != "No emote stats recorded for ghost yet." {
		t.Errorf("reply = %v", replier.lines)
	}
}

func TestTopCommandCapsAtFive(t *testing.T) {
	store := newTestStore(t)
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		for j := 0; j <= i; j++ {
			store.IncrementStats(name, "", "", true)
		}
	}
	d, replier := newTestDispatcher(t, store, nil)

	d.Handle(context.Background(), "u1", "alice", "!leaderboard")

	if len(replier.lines) != 1 {
		t.Fatalf("lines = %v", replier.lines)
	}
	want := "Top emoters: 1. g (7) | 2. f (6) | 3. e (5) | 4. d (4) | 5. c (3)"
	if replier.lines[0] != want {
		t.Errorf("reply = %q, want %q", replier.lines[0], want)
	}
}

func TestTopCommandEmpty(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	d.Handle(context.Background(), "u1", "alice", "!top")
	if len(replier.lines) != 1 || replier.lines[0] != "Nobody has used any emotes yet. Be the first!" {
		t.Errorf("reply = %v", replier.lines)
	}
}

func TestEmoteCommand(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	d.Handle(ctx, "u1", "alice", "!emote catJAM")
	resetAdmission(d, "alice")
	d.Handle(ctx, "u1", "alice", "!emoteinfo Kappa")
	resetAdmission(d, "alice")
	d.Handle(ctx, "u1", "alice", "!emote NotReal")
	resetAdmission(d, "alice")
	d.Handle(ctx, "u1", "alice", "!emote")

	want := []string{
		"catJAM is an animated emote from bttv.",
		"Kappa is a static emote from 7tv-channel.",
		"NotReal is not a known emote in this channel.",
		"Usage: !emote <code>",
	}
	if len(replier.lines) != len(want) {
		t.Fatalf("lines = %v, want %d replies", replier.lines, len(want))
	}
	for i := range want {
		if replier.lines[i] != want[i] {
			t.Errorf("reply[%d] = %q, want %q", i, replier.lines[i], want[i])
		}
	}
}

func TestRankCommand(t *testing.T) {
	store := newTestStore(t)
	store.IncrementStats("alice", "", "", true)
	store.IncrementStats("bob", "", "", true)
	store.IncrementStats("bob", "", "", true)
	d, replier := newTestDispatcher(t, store, nil)

	d.Handle(context.Background(), "u1", "alice", "!rank")

	if len(replier.lines) != 1 || replier.lines[0] != "alice, you are #2 of 2 tracked emoters." {
		t.Errorf("reply = %v", replier.lines)
	}
}

func TestPlatformsCommandCanonicalOrder(t *testing.T) {
	store := newTestStore(t)
	store.IncrementEmoteCount("alice", "catJAM", "bttv")
	store.IncrementEmoteCount("alice", "Kappa", "7tv-channel")
	store.IncrementEmoteCount("bob", "Kappa", "7tv-channel")
	d, replier := newTestDispatcher(t, store, nil)

	d.Handle(context.Background(), "u1", "alice", "!platforms")

	want := "Emotes by platform: 7tv-channel: 2 | bttv: 1"
	if len(replier.lines) != 1 || replier.lines[0] != want {
		t.Errorf("reply = %v, want %q", replier.lines, want)
	}
}

func TestHelpCommand(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	d.Handle(ctx, "u1", "alice", "!help")
	resetAdmission(d, "alice")
	d.Handle(ctx, "u1", "alice", "!commands top")

	if len(replier.lines) != 2 {
		t.Fatalf("lines = %v", replier.lines)
	}
	if strings.Contains(replier.lines[0], "!metrics") {
		t.Errorf("help lists admin command: %q", replier.lines[0])
	}
	for _, name := range []string{"!stats", "!top", "!emote", "!rank", "!platforms", "!help"} {
		if !strings.Contains(replier.lines[0], name) {
			t.Errorf("help missing %s: %q", name, replier.lines[0])
		}
	}
	if replier.lines[1] != "!top - the top emoters leaderboard" {
		t.Errorf("per-command help = %q", replier.lines[1])
	}
}

func TestMetricsCommandBroadcasterOnly(t *testing.T) {
	store := newTestStore(t)
	store.RecordMessage()
	d, replier := newTestDispatcher(t, store, nil)
	ctx := context.Background()

	d.Handle(ctx, "u1", "alice", "!metrics")
	d.Handle(ctx, "u2", "Streamer", "!botstats")

	if len(replier.lines) != 2 {
		t.Fatalf("lines = %v", replier.lines)
	}
	if replier.lines[0] != "Only the broadcaster can use !metrics." {
		t.Errorf("non-broadcaster reply = %q", replier.lines[0])
	}
	if !strings.HasPrefix(replier.lines[1], "Messages: 1 | Emotes: 0") {
		t.Errorf("broadcaster reply = %q", replier.lines[1])
	}
}

func TestHandlerPanicYieldsGenericError(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, panicCatalog{})
	d.Handle(context.Background(), "u1", "alice", "!emote Kappa")
	if len(replier.lines) != 1 || replier.lines[0] != errorReply {
		t.Errorf("lines = %v, want generic error reply", replier.lines)
	}
}

func TestAdmitCooldownAndRateLimit(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	if err := d.admit("alice", "stats"); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	// Same command immediately: the cooldown fires before the rate limit.
	if err := d.admit("alice", "stats"); !errors.Is(err, ErrOnCooldown) {
		t.Errorf("repeat admit = %v, want ErrOnCooldown", err)
	}
	// Different command immediately: blocked by the 1s per-user rate limit.
	if err := d.admit("alice", "top"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second command admit = %v, want ErrRateLimited", err)
	}
	// Different command after the rate window: allowed even while the first
	// command is still cooling down.
	grantToken(d, "alice")
	if err := d.admit("alice", "top"); err != nil {
		t.Errorf("post-window admit = %v, want nil", err)
	}
	if err := d.admit("alice", "stats"); !errors.Is(err, ErrOnCooldown) {
		t.Errorf("still-cooling admit = %v, want ErrOnCooldown", err)
	}
	// Once the cooldown lapses the command runs again.
	d.mu.Lock()
	d.cooldowns["alice|stats"] = time.Now().Add(-commandCooldown - time.Second)
	d.mu.Unlock()
	grantToken(d, "alice")
	if err := d.admit("alice", "stats"); err != nil {
		t.Errorf("post-cooldown admit = %v, want nil", err)
	}
}

func TestRejectionsStaySilent(t *testing.T) {
	d, replier := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	d.Handle(ctx, "u1", "alice", "!top")
	d.Handle(ctx, "u1", "alice", "!rank") // inside the rate window

	if len(replier.lines) != 1 {
		t.Errorf("lines = %v, want exactly one reply", replier.lines)
	}
}

func TestRejectedCommandsNotCounted(t *testing.T) {
	store := newTestStore(t)
	d, _ := newTestDispatcher(t, store, nil)
	ctx := context.Background()

	d.Handle(ctx, "u1", "alice", "!top")
	d.Handle(ctx, "u1", "alice", "!top") // cooldown reject

	if m := store.MetricsSnapshot(); m.CommandsExecuted != 1 {
		t.Errorf("CommandsExecuted = %d, want 1", m.CommandsExecuted)
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	_ = d.admit("alice", "stats")
	_ = d.admit("bob", "top")

	// Age alice's entries past the idle horizon; bob stays fresh.
	d.mu.Lock()
	d.limiters["alice"].seen = time.Now().Add(-2 * time.Hour)
	d.cooldowns["alice|stats"] = time.Now().Add(-2 * time.Hour)
	d.mu.Unlock()

	if removed := d.Sweep(time.Hour); removed != 2 {
		t.Errorf("Sweep removed %d entries, want 2", removed)
	}
	d.mu.Lock()
	_, aliceKept := d.limiters["alice"]
	_, bobKept := d.limiters["bob"]
	d.mu.Unlock()
	if aliceKept || !bobKept {
		t.Errorf("limiters after sweep: alice=%v bob=%v", aliceKept, bobKept)
	}
}
