// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesProcessed prometheus.Counter
	EmotesDetected    prometheus.Counter
	MilestonesFired   prometheus.Counter
	CommandsExecuted  *prometheus.CounterVec // label: command
	CommandsRejected  *prometheus.CounterVec // label: reason
	SavesSucceeded    prometheus.Counter
	SavesFailed       prometheus.Counter
	CatalogRefreshes  prometheus.Counter
	ProviderErrors    *prometheus.CounterVec // label: provider
	SchedulerRuns     *prometheus.CounterVec // label: task
	SchedulerFailures *prometheus.CounterVec // label: task
	AIGenerations     prometheus.Counter
	AIFailures        prometheus.Counter

	// Histograms (seconds)
	SaveDuration    prometheus.Observer
	RefreshDuration prometheus.Observer
	CommandDuration prometheus.Observer

	// Gauges
	SaveQueueDepth    prometheus.Gauge
	TrackedUsers      prometheus.Gauge
	CatalogEmotes     *prometheus.GaugeVec // label: platform
	ChatConnectedFlag prometheus.Gauge     // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_messages_processed_total", Help: "Number of chat messages processed"})
		EmotesDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_emotes_detected_total", Help: "Number of emote occurrences detected in chat"})
		MilestonesFired = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_milestones_fired_total", Help: "Number of milestone celebrations fired"})
		CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotetally_commands_executed_total", Help: "Number of chat commands executed"}, []string{"command"})
		CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotetally_commands_rejected_total", Help: "Number of chat commands rejected before execution"}, []string{"reason"})
		SavesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_stats_saves_total", Help: "Number of statistics snapshots written"})
		SavesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_stats_save_failures_total", Help: "Number of statistics snapshot writes that failed"})
		CatalogRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_catalog_refreshes_total", Help: "Number of emote catalog refresh passes"})
		ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotetally_provider_fetch_errors_total", Help: "Number of emote provider fetches that degraded to empty"}, []string{"provider"})
		SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotetally_scheduler_runs_total", Help: "Number of scheduler task runs"}, []string{"task"})
		SchedulerFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "emotetally_scheduler_failures_total", Help: "Number of scheduler task runs that returned an error"}, []string{"task"})
		AIGenerations = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_ai_generations_total", Help: "Number of AI celebration texts produced"})
		AIFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "emotetally_ai_failures_total", Help: "Number of AI generation attempts that fell back to the template"})
		SaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotetally_stats_save_duration_seconds", Help: "Statistics snapshot write duration seconds", Buckets: prometheus.DefBuckets})
		RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotetally_catalog_refresh_duration_seconds", Help: "Catalog refresh duration seconds", Buckets: prometheus.DefBuckets})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "emotetally_command_duration_seconds", Help: "Chat command handling duration seconds", Buckets: prometheus.DefBuckets})
		SaveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotetally_save_queue_depth", Help: "Current number of queued statistics saves"})
		TrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotetally_tracked_users", Help: "Current number of users with recorded statistics"})
		CatalogEmotes = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "emotetally_catalog_emotes", Help: "Current number of cached emotes per platform"}, []string{"platform"})
		ChatConnectedFlag = promauto.NewGauge(prometheus.GaugeOpts{Name: "emotetally_chat_connected", Help: "Chat connection up=1 down=0"})
	})
}

// SetChatConnected sets the connection gauge to 1 if up else 0.
func SetChatConnected(up bool) {
	if ChatConnectedFlag == nil {
		return
	}
	if up {
		ChatConnectedFlag.Set(1)
	} else {
		ChatConnectedFlag.Set(0)
	}
}

// SetSaveQueueDepth records the current number of queued saves.
func SetSaveQueueDepth(n int) {
	if SaveQueueDepth != nil {
		SaveQueueDepth.Set(float64(n))
	}
}

// SetTrackedUsers records the current tracked-user count.
func SetTrackedUsers(n int) {
	if TrackedUsers != nil {
		TrackedUsers.Set(float64(n))
	}
}

// SetCatalogCounts records per-platform cached emote counts. Platforms absent
// from counts are zeroed so stale values never linger after a refresh.
func SetCatalogCounts(platforms []string, counts map[string]int) {
	if CatalogEmotes == nil {
		return
	}
	for _, p := range platforms {
		CatalogEmotes.WithLabelValues(p).Set(float64(counts[p]))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
