package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
)

// EmoteLookup is the catalog surface the classifier needs.
type EmoteLookup interface {
	Info(code string) (emotes.EmoteRecord, bool)
}

// Classifier turns chat lines into statistics updates.
type Classifier struct {
	catalog EmoteLookup
	store   *stats.Store
	log     *slog.Logger
}

func NewClassifier(catalog EmoteLookup, store *stats.Store, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default().With(slog.String("component", "chat"))
	}
	return &Classifier{catalog: catalog, store: store, log: log}
}

// ProcessMessage records one chat line: the message counter always, the
// sender's total once when any token is a known emote, and per-occurrence
// sub-counters for every matched token. Returned events are milestone
// crossings caused by this message. Panics are contained here; the inbound
// stream must survive any single message.
func (c *Classifier) ProcessMessage(ctx context.Context, username, text string) (events []stats.MilestoneEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message processing panic",
				slog.Any("panic", r), slog.String("username", username))
			events = nil
		}
	}()

	c.store.RecordMessage()

	var detected []emotes.EmoteRecord
	for _, token := range strings.Fields(text) {
		if rec, ok := c.catalog.Info(token); ok {
			detected = append(detected, rec)
		}
	}
	if len(detected) == 0 {
		return nil
	}

	_, events = c.store.IncrementStats(username, "", "", true)
	for _, rec := range detected {
		c.store.IncrementEmoteCount(username, rec.Code, string(rec.Platform))
	}
	c.store.RecordEmoteDetected(len(detected))

	log := c.log
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		log = log.With(slog.String("corr", corr))
	}
	log.Debug("emotes detected",
		slog.String("username", username), slog.Int("count", len(detected)))
	return events
}
