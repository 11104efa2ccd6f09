package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/emote-tally/stats"
)

// Hub fans milestone events out to SSE subscribers, typically stream
// overlays. Delivery is best-effort: a subscriber that stops reading misses
// events rather than blocking the notifier.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[chan stats.MilestoneEvent]struct{}
}

// NewHub returns a hub with no subscribers.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default().With(slog.String("component", "http"))
	}
	return &Hub{log: log, subs: map[chan stats.MilestoneEvent]struct{}{}}
}

// PublishMilestone delivers ev to every current subscriber without blocking.
func (h *Hub) PublishMilestone(ev stats.MilestoneEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Debug("milestone subscriber lagging, event dropped",
				slog.String("username", ev.Username))
		}
	}
}

func (h *Hub) subscribe() chan stats.MilestoneEvent {
	ch := make(chan stats.MilestoneEvent, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan stats.MilestoneEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *Hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP streams milestone events as SSE. Only events fired after the
// subscription starts are delivered; there is no replay.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// Comment lines keep idle connections alive through proxies.
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if _, err := w.Write([]byte("data: ")); err != nil {
				h.log.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			_ = enc.Encode(map[string]any{
				"username":  ev.Username,
				"threshold": ev.Threshold,
				"text":      ev.Text,
			})
			if _, err := w.Write([]byte("\n")); err != nil {
				h.log.Warn("failed to write SSE newline", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}
