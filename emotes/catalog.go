package emotes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/emote-tally/snapshot"
	"github.com/onnwee/emote-tally/telemetry"
)

// ErrChannelResolve marks a refresh that failed before any provider was
// contacted because the channel's Twitch id could not be determined.
var ErrChannelResolve = errors.New("channel id resolution failed")

// cacheVersion is stamped into the on-disk snapshot.
const cacheVersion = "1.0"

// ChannelResolver turns a channel login into a Twitch user id. Satisfied by
// twitchapi.HelixClient.
type ChannelResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

type cacheSnapshot struct {
	Emotes     map[string]EmoteRecord `json:"emotes"`
	LastUpdate int64                  `json:"lastUpdate"`
	Version    string                 `json:"version"`
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Path is the cache snapshot location on disk.
	Path string
	// RefreshInterval is the minimum spacing between upstream refreshes.
	RefreshInterval time.Duration
	// ChannelID, when set, skips login resolution entirely.
	ChannelID         string
	Providers         []Provider
	Resolver          ChannelResolver
	DisabledPlatforms []string
	Logger            *slog.Logger
}

// Catalog is the merged emote lookup table. Lookups are cheap and safe from
// any goroutine; refreshes swap the whole table at once.
type Catalog struct {
	path      string
	interval  time.Duration
	channelID string
	providers []Provider
	resolver  ChannelResolver
	log       *slog.Logger

	mu         sync.RWMutex
	emotes     map[string]EmoteRecord
	lastUpdate time.Time

	filterMu sync.RWMutex
	disabled map[Platform]bool

	refreshMu sync.Mutex
}

func NewCatalog(opts CatalogOptions) *Catalog {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "emotes"))
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	c := &Catalog{
		path:      opts.Path,
		interval:  interval,
		channelID: opts.ChannelID,
		providers: opts.Providers,
		resolver:  opts.Resolver,
		log:       log,
		emotes:    map[string]EmoteRecord{},
		disabled:  map[Platform]bool{},
	}
	for _, name := range opts.DisabledPlatforms {
		p, ok := ParsePlatform(name)
		if !ok {
			log.Warn("ignoring unknown platform in disabled list", slog.String("platform", name))
			continue
		}
		c.disabled[p] = true
	}
	return c
}

// Load primes the catalog from the cache snapshot. A missing or malformed
// file leaves the catalog empty, which is a safe degraded state.
func (c *Catalog) Load() {
	var snap cacheSnapshot
	err := snapshot.Read(c.path, &snap)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return
	default:
		c.log.Warn("discarding malformed emote cache", slog.String("path", c.path), slog.Any("err", err))
		return
	}
	if snap.Emotes == nil {
		snap.Emotes = map[string]EmoteRecord{}
	}
	c.mu.Lock()
	c.emotes = snap.Emotes
	if snap.LastUpdate > 0 {
		c.lastUpdate = time.UnixMilli(snap.LastUpdate)
	}
	c.mu.Unlock()
	c.log.Info("emote cache loaded",
		slog.Int("emotes", len(snap.Emotes)),
		slog.String("version", snap.Version))
	c.publishCounts()
}

// Refresh pulls all provider emote sets and replaces the lookup table. It is
// a no-op while the table is younger than the refresh interval or while
// another refresh is in flight. A channel id is resolved from, in order: the
// configured id, the channelID argument, a Helix lookup of channelName.
func (c *Catalog) Refresh(ctx context.Context, channelID, channelName string) error {
	if c.fresh() {
		return nil
	}
	if !c.refreshMu.TryLock() {
		c.log.Debug("emote refresh already in flight")
		return nil
	}
	defer c.refreshMu.Unlock()
	if c.fresh() {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "emotes", "catalog.refresh")
	defer span.End()
	start := time.Now()

	id, err := c.resolveChannelID(ctx, channelID, channelName)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	records := c.fetchAll(ctx, id)
	next := make(map[string]EmoteRecord, len(records))
	for _, r := range records {
		if r.Code == "" {
			continue
		}
		next[r.Code] = r
	}

	now := time.Now()
	c.mu.Lock()
	c.emotes = next
	c.lastUpdate = now
	c.mu.Unlock()

	telemetry.CatalogRefreshes.Inc()
	telemetry.RefreshDuration.Observe(time.Since(start).Seconds())
	c.publishCounts()
	c.log.Info("emote catalog refreshed",
		slog.Int("emotes", len(next)),
		slog.Duration("took", time.Since(start)))

	snap := cacheSnapshot{Emotes: next, LastUpdate: now.UnixMilli(), Version: cacheVersion}
	if err := snapshot.WriteAtomic(c.path, snap); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("persist emote cache: %w", err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (c *Catalog) fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastUpdate) < c.interval
}

func (c *Catalog) resolveChannelID(ctx context.Context, callerID, channelName string) (string, error) {
	if c.channelID != "" {
		return c.channelID, nil
	}
	if callerID != "" {
		return callerID, nil
	}
	if c.resolver == nil {
		return "", fmt.Errorf("%w: no resolver configured", ErrChannelResolve)
	}
	id, err := c.resolver.GetUserID(ctx, channelName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrChannelResolve, err)
	}
	return id, nil
}

// fetchAll runs every provider's channel and global fetch concurrently. A
// failing fetch degrades to an empty slot so one provider outage never blocks
// the rest.
func (c *Catalog) fetchAll(ctx context.Context, channelID string) []EmoteRecord {
	type fetch struct {
		provider string
		scope    string
		run      func(context.Context) ([]EmoteRecord, error)
	}
	var fetches []fetch
	for _, p := range c.providers {
		fetches = append(fetches,
			fetch{p.Name(), "channel", func(ctx context.Context) ([]EmoteRecord, error) {
				return p.ChannelEmotes(ctx, channelID)
			}},
			fetch{p.Name(), "global", func(ctx context.Context) ([]EmoteRecord, error) {
				return p.GlobalEmotes(ctx)
			}},
		)
	}

	results := make([][]EmoteRecord, len(fetches))
	var wg sync.WaitGroup
	for i, f := range fetches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := f.run(ctx)
			if err != nil {
				telemetry.ProviderErrors.WithLabelValues(f.provider).Inc()
				c.log.Warn("provider fetch degraded to empty",
					slog.String("provider", f.provider),
					slog.String("scope", f.scope),
					slog.Any("err", err))
				return
			}
			results[i] = recs
		}()
	}
	wg.Wait()

	var out []EmoteRecord
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Info returns the record for a chat token. Records from disabled platforms
// are invisible without being evicted.
func (c *Catalog) Info(code string) (EmoteRecord, bool) {
	c.mu.RLock()
	rec, ok := c.emotes[code]
	c.mu.RUnlock()
	if !ok || !c.PlatformEnabled(rec.Platform) {
		return EmoteRecord{}, false
	}
	return rec, true
}

// IsEmote reports whether a chat token is a known, enabled emote.
func (c *Catalog) IsEmote(code string) bool {
	_, ok := c.Info(code)
	return ok
}

func (c *Catalog) PlatformEnabled(p Platform) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return !c.disabled[p]
}

// SetPlatformEnabled toggles a platform at runtime. Disabling hides its
// records from lookups immediately; re-enabling restores them without a
// refetch.
func (c *Catalog) SetPlatformEnabled(p Platform, enabled bool) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if enabled {
		delete(c.disabled, p)
		return
	}
	c.disabled[p] = true
}

// DisabledPlatforms returns the currently disabled platforms, sorted.
func (c *Catalog) DisabledPlatforms() []string {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	out := make([]string, 0, len(c.disabled))
	for p := range c.disabled {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Len returns the number of records in the table, disabled platforms
// included.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.emotes)
}

// LastUpdate returns when the table was last replaced. Zero means never.
func (c *Catalog) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// CountsByPlatform returns the record count per platform string.
func (c *Catalog) CountsByPlatform() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]int, len(Platforms()))
	for _, rec := range c.emotes {
		counts[string(rec.Platform)]++
	}
	return counts
}

func (c *Catalog) publishCounts() {
	telemetry.SetCatalogCounts(PlatformNames(), c.CountsByPlatform())
}
