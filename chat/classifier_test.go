package chat

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

// fakeLookup resolves emote codes from a fixed table.
type fakeLookup map[string]emotes.EmoteRecord

func (f fakeLookup) Info(code string) (emotes.EmoteRecord, bool) {
	rec, ok := f[code]
	return rec, ok
}

// panicLookup simulates a catalog blowing up mid-message.
type panicLookup struct{}

func (panicLookup) Info(string) (emotes.EmoteRecord, bool) { panic("catalog gone") }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClassifierStore(t *testing.T, opts stats.StoreOptions) *stats.Store {
	t.Helper()
	dir := t.TempDir()
	opts.Path = filepath.Join(dir, "stats.json")
	opts.TopUserPath = filepath.Join(dir, "top_user.txt")
	opts.TopUsersPath = filepath.Join(dir, "top_users.json")
	opts.Logger = discardLogger()
	s := stats.NewStore(opts)
	t.Cleanup(s.Close)
	return s
}

var testLookup = fakeLookup{
	"Kappa":    {ID: "25", Code: "Kappa", Platform: emotes.Platform7TVChannel},
	"PogChamp": {ID: "88", Code: "PogChamp", Platform: emotes.PlatformTwitch},
}

func TestProcessMessageCountsOccurrences(t *testing.T) {
	store := newClassifierStore(t, stats.StoreOptions{})
	c := NewClassifier(testLookup, store, discardLogger())

	events := c.ProcessMessage(context.Background(), "alice", "Kappa Kappa PogChamp")
	if len(events) != 0 {
		t.Errorf("unexpected events %v", events)
	}

	u, ok := store.GetUserStats("alice")
	if !ok {
		t.Fatal("alice not tracked")
	}
	if u.Total != 1 {
		t.Errorf("total = %d, want 1 (one per message)", u.Total)
	}
	if u.Emotes["Kappa"] != 2 || u.Emotes["PogChamp"] != 1 {
		t.Errorf("emotes = %v", u.Emotes)
	}
	if u.Platforms["7tv-channel"] != 2 || u.Platforms["twitch"] != 1 {
		t.Errorf("platforms = %v", u.Platforms)
	}
	m := store.MetricsSnapshot()
	if m.MessagesProcessed != 1 || m.EmotesDetected != 3 {
		t.Errorf("metrics = %+v, want 1 message, 3 detections", m)
	}
}

func TestProcessMessageNoEmotes(t *testing.T) {
	store := newClassifierStore(t, stats.StoreOptions{})
	c := NewClassifier(testLookup, store, discardLogger())

	c.ProcessMessage(context.Background(), "alice", "hello chat how are you")

	if _, ok := store.GetUserStats("alice"); ok {
		t.Error("user created without any emote detection")
	}
	m := store.MetricsSnapshot()
	if m.MessagesProcessed != 1 || m.EmotesDetected != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestProcessMessageTokenization(t *testing.T) {
	store := newClassifierStore(t, stats.StoreOptions{})
	c := NewClassifier(testLookup, store, discardLogger())

	// Mixed whitespace splits like strings.Fields; substrings do not match.
	c.ProcessMessage(context.Background(), "alice", "  Kappa\t\tKappaPog  Kappa ")

	u, _ := store.GetUserStats("alice")
	if u.Emotes["Kappa"] != 2 {
		t.Errorf("Kappa count = %d, want 2", u.Emotes["Kappa"])
	}
	if len(u.Emotes) != 1 {
		t.Errorf("emotes = %v, want only Kappa", u.Emotes)
	}
}

func TestProcessMessageMilestone(t *testing.T) {
	store := newClassifierStore(t, stats.StoreOptions{
		Milestones: []config.Milestone{{Threshold: 1}},
	})
	c := NewClassifier(testLookup, store, discardLogger())

	events := c.ProcessMessage(context.Background(), "alice", "PogChamp")
	if len(events) != 1 || events[0].Threshold != 1 || events[0].Username != "alice" {
		t.Errorf("events = %+v", events)
	}
}

func TestProcessMessagePanicContained(t *testing.T) {
	store := newClassifierStore(t, stats.StoreOptions{})
	c := NewClassifier(panicLookup{}, store, discardLogger())

	events := c.ProcessMessage(context.Background(), "alice", "Kappa")
	if events != nil {
		t.Errorf("events = %v, want nil after contained panic", events)
	}
	// The message counter was already recorded before the blowup.
	if m := store.MetricsSnapshot(); m.MessagesProcessed != 1 {
		t.Errorf("MessagesProcessed = %d", m.MessagesProcessed)
	}
}
