// Package stats accumulates per-user emote counters, detects milestone
// crossings, and checkpoints everything to a flat-file snapshot through a
// serialized save queue.
package stats

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/snapshot"
	"github.com/onnwee/emote-tally/telemetry"
)

// ErrSaveInFlight is returned by FreeMemory while a snapshot write is queued
// or running.
var ErrSaveInFlight = errors.New("save in flight")

// ErrStoreClosed is returned by Save after Close.
var ErrStoreClosed = errors.New("store closed")

// UserStats is one user's accumulated counters. Usernames are kept exactly as
// received from chat.
type UserStats struct {
	Total     int64            `json:"total"`
	Emotes    map[string]int64 `json:"emotes"`
	Platforms map[string]int64 `json:"platforms"`
	FirstSeen int64            `json:"firstSeen"`
	LastSeen  int64            `json:"lastSeen"`
}

func (u UserStats) clone() UserStats {
	c := u
	c.Emotes = maps.Clone(u.Emotes)
	c.Platforms = maps.Clone(u.Platforms)
	return c
}

// Metrics are bot-level counters persisted for continuity across restarts.
type Metrics struct {
	MessagesProcessed int64 `json:"messagesProcessed"`
	EmotesDetected    int64 `json:"emotesDetected"`
	CommandsExecuted  int64 `json:"commandsExecuted"`
	LastSaveAttempt   int64 `json:"lastSaveAttempt"`
	TotalSaves        int64 `json:"totalSaves"`
	FailedSaves       int64 `json:"failedSaves"`
}

// MilestoneEvent describes one threshold crossing. Text keeps the {count} and
// {username} placeholders for the notifier to substitute.
type MilestoneEvent struct {
	Username  string
	Threshold int64
	Text      string
}

// Generator produces celebration text for a milestone. Implementations must
// respect the context deadline; any failure falls back to the static template.
type Generator interface {
	Generate(ctx context.Context, username string, threshold int64) (string, error)
}

type statsSnapshot struct {
	Stats      map[string]*UserStats `json:"stats"`
	Metrics    Metrics               `json:"metrics"`
	LastUpdate int64                 `json:"lastUpdate"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Path is the statistics snapshot location.
	Path string
	// TopUserPath is the single-line top user file for overlays.
	TopUserPath string
	// TopUsersPath is the leaderboard export file.
	TopUsersPath    string
	TopUserTemplate string
	Milestones      []config.Milestone
	// Generator, when set, is asked for milestone text before falling back
	// to the configured template.
	Generator        Generator
	GeneratorTimeout time.Duration
	QueueSize        int
	Logger           *slog.Logger
}

// Store owns all user statistics and persisted metrics. All methods are safe
// for concurrent use; snapshot writes are serialized through a single worker.
type Store struct {
	path            string
	topUserPath     string
	topUsersPath    string
	topUserTemplate string
	milestones      []config.Milestone
	gen             Generator
	genTimeout      time.Duration
	log             *slog.Logger

	mu      sync.Mutex
	loaded  bool
	closed  bool
	pending int
	users   map[string]*UserStats
	metrics Metrics

	queue chan saveRequest
	done  chan struct{}

	// writeFn is the snapshot writer, replaceable in tests.
	writeFn func(path string, data []byte) error

	closeOnce sync.Once
}

func NewStore(opts StoreOptions) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "stats"))
	}
	tmpl := opts.TopUserTemplate
	if tmpl == "" {
		tmpl = config.DefaultTopUserTemplate
	}
	genTimeout := opts.GeneratorTimeout
	if genTimeout <= 0 {
		genTimeout = 3 * time.Second
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	s := &Store{
		path:            opts.Path,
		topUserPath:     opts.TopUserPath,
		topUsersPath:    opts.TopUsersPath,
		topUserTemplate: tmpl,
		milestones:      opts.Milestones,
		gen:             opts.Generator,
		genTimeout:      genTimeout,
		log:             log,
		queue:           make(chan saveRequest, queueSize),
		done:            make(chan struct{}),
		writeFn:         snapshot.WriteBytesAtomic,
	}
	go s.saveWorker()
	return s
}

// Close drains the save queue and stops the worker. Save calls after Close
// fail with ErrStoreClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.queue)
		<-s.done
	})
}

// Load restores state from the snapshot file. Missing file means a fresh
// start; any other failure is surfaced but leaves the store usable with empty
// state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// EnsureLoaded lazily restores state after construction or FreeMemory.
func (s *Store) EnsureLoaded() {
	s.mu.Lock()
	s.ensureLoadedLocked()
	s.mu.Unlock()
}

func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	if err := s.loadLocked(); err != nil {
		s.log.Warn("stats snapshot unreadable, starting empty", slog.Any("err", err))
	}
}

func (s *Store) loadLocked() error {
	s.loaded = true
	if s.users == nil {
		s.users = map[string]*UserStats{}
	}
	var snap statsSnapshot
	err := snapshot.Read(s.path, &snap)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
	if snap.Stats == nil {
		snap.Stats = map[string]*UserStats{}
	}
	for _, u := range snap.Stats {
		if u.Emotes == nil {
			u.Emotes = map[string]int64{}
		}
		if u.Platforms == nil {
			u.Platforms = map[string]int64{}
		}
	}
	s.users = snap.Stats
	s.metrics = snap.Metrics
	telemetry.SetTrackedUsers(len(s.users))
	s.log.Info("stats loaded", slog.Int("users", len(s.users)))
	return nil
}

// FreeMemory drops the in-memory maps so long-idle channels shed footprint.
// It refuses with ErrSaveInFlight while any snapshot write is queued or
// running; the next access reloads transparently from disk.
func (s *Store) FreeMemory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		return ErrSaveInFlight
	}
	if !s.loaded {
		return nil
	}
	s.loaded = false
	s.users = nil
	s.metrics = Metrics{}
	s.log.Info("stats unloaded from memory")
	return nil
}

// IncrementStats is the single mutation entry point tied to a message. The
// total advances when totalOnly is set or when both emote and platform are
// given; sub-counters advance only with both. It returns the post-update
// stats and any milestone events crossed by this call. When the sender is now
// the single highest-total user the top user file is rewritten.
func (s *Store) IncrementStats(username, emote, platform string, totalOnly bool) (UserStats, []MilestoneEvent) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	s.ensureLoadedLocked()
	u := s.userLocked(username, now)
	prev := u.Total
	if totalOnly || (emote != "" && platform != "") {
		u.Total++
	}
	if emote != "" && platform != "" {
		u.Emotes[emote]++
		u.Platforms[platform]++
	}
	u.LastSeen = now
	crossed := s.crossedLocked(prev, u.Total)
	top := s.isTopLocked(username)
	out := u.clone()
	s.mu.Unlock()

	if top {
		s.writeTopUserFile(username, out)
	}
	return out, s.resolveMilestones(username, crossed)
}

// IncrementEmoteCount bumps the per-emote and per-platform sub-counters for
// one detected token occurrence. The total and milestones are untouched.
func (s *Store) IncrementEmoteCount(username, emote, platform string) {
	if emote == "" || platform == "" {
		return
	}
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	u := s.userLocked(username, now)
	u.Emotes[emote]++
	u.Platforms[platform]++
	u.LastSeen = now
}

func (s *Store) userLocked(username string, now int64) *UserStats {
	u, ok := s.users[username]
	if !ok {
		u = &UserStats{
			Emotes:    map[string]int64{},
			Platforms: map[string]int64{},
			FirstSeen: now,
		}
		s.users[username] = u
		telemetry.SetTrackedUsers(len(s.users))
	}
	return u
}

func (s *Store) crossedLocked(prev, now int64) []config.Milestone {
	var out []config.Milestone
	for _, m := range s.milestones {
		if prev < m.Threshold && m.Threshold <= now {
			out = append(out, m)
		}
	}
	return out
}

// isTopLocked reports whether username's total is strictly above every other
// user's.
func (s *Store) isTopLocked(username string) bool {
	u, ok := s.users[username]
	if !ok {
		return false
	}
	for name, other := range s.users {
		if name == username {
			continue
		}
		if other.Total >= u.Total {
			return false
		}
	}
	return true
}

// resolveMilestones turns crossed thresholds into events, asking the
// generator for text when one is configured. Runs outside the counter lock.
func (s *Store) resolveMilestones(username string, crossed []config.Milestone) []MilestoneEvent {
	if len(crossed) == 0 {
		return nil
	}
	events := make([]MilestoneEvent, 0, len(crossed))
	for _, m := range crossed {
		text := m.Template
		if text == "" {
			text = config.DefaultMilestoneTemplate
		}
		if s.gen != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.genTimeout)
			alt, err := s.gen.Generate(ctx, username, m.Threshold)
			cancel()
			switch {
			case err != nil:
				telemetry.AIFailures.Inc()
				s.log.Warn("milestone text generation failed, using template",
					slog.Int64("threshold", m.Threshold), slog.Any("err", err))
			case strings.TrimSpace(alt) != "":
				telemetry.AIGenerations.Inc()
				text = alt
			}
		}
		telemetry.MilestonesFired.Inc()
		s.log.Info("milestone crossed",
			slog.String("username", username), slog.Int64("threshold", m.Threshold))
		events = append(events, MilestoneEvent{Username: username, Threshold: m.Threshold, Text: text})
	}
	return events
}

func (s *Store) renderTopUser(username string, u UserStats) string {
	r := strings.NewReplacer(
		"{username}", username,
		"{total}", strconv.FormatInt(u.Total, 10),
		"{rank}", "1",
		"{favorite_emote}", MostUsedEmote(u.Emotes),
	)
	return r.Replace(s.topUserTemplate)
}

func (s *Store) writeTopUserFile(username string, u UserStats) {
	if s.topUserPath == "" {
		return
	}
	line := s.renderTopUser(username, u)
	if err := snapshot.WriteBytesAtomic(s.topUserPath, []byte(line+"\n")); err != nil {
		s.log.Warn("top user file write failed", slog.Any("err", err))
	}
}

// RecordMessage counts one processed chat message.
func (s *Store) RecordMessage() {
	s.mu.Lock()
	s.ensureLoadedLocked()
	s.metrics.MessagesProcessed++
	s.mu.Unlock()
	telemetry.MessagesProcessed.Inc()
}

// RecordEmoteDetected counts n detected emote occurrences.
func (s *Store) RecordEmoteDetected(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.ensureLoadedLocked()
	s.metrics.EmotesDetected += int64(n)
	s.mu.Unlock()
	telemetry.EmotesDetected.Add(float64(n))
}

// RecordCommand counts one executed chat command.
func (s *Store) RecordCommand() {
	s.mu.Lock()
	s.ensureLoadedLocked()
	s.metrics.CommandsExecuted++
	s.mu.Unlock()
}
