// Package commands implements the read-only chat command surface: per-user
// rate limiting, per-command cooldowns, and a typed dispatch table with alias
// resolution.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
)

const (
	// perUserRate spaces out commands from one user regardless of command.
	perUserRate = time.Second
	// commandCooldown spaces out repeats of the same command by one user.
	commandCooldown = 3 * time.Second
)

// ErrRateLimited marks a command arriving inside the per-user rate window.
var ErrRateLimited = errors.New("rate limited")

// ErrOnCooldown marks a repeat of the same command inside its cooldown.
var ErrOnCooldown = errors.New("command on cooldown")

const (
	unknownReply = "Unrecognized command. Try !help for the list."
	errorReply   = "Something went wrong running that command."
)

// Replier sends one reply line to chat.
type Replier interface {
	Say(text string)
}

// CatalogInfo is the catalog surface the emote command needs.
type CatalogInfo interface {
	Info(code string) (emotes.EmoteRecord, bool)
}

type request struct {
	userID   string
	username string
	args     []string
}

type handlerFunc func(ctx context.Context, req request) string

type commandSpec struct {
	name        string
	usage       string
	description string
	aliases     []string
	adminOnly   bool
	handler     handlerFunc
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Options configures a Dispatcher.
type Options struct {
	Store   *stats.Store
	Catalog CatalogInfo
	Replier Replier
	// Broadcaster is the channel owner's login, gating admin commands.
	Broadcaster string
	Locale      string
	Logger      *slog.Logger
}

// Dispatcher routes "!" chat lines to command handlers. All state it keeps is
// admission bookkeeping; the handlers themselves only read from the store and
// catalog.
type Dispatcher struct {
	store       *stats.Store
	catalog     CatalogInfo
	replier     Replier
	broadcaster string
	printer     *message.Printer
	log         *slog.Logger

	specs   map[string]*commandSpec
	aliases map[string]string
	order   []string

	mu        sync.Mutex
	limiters  map[string]*userLimiter
	cooldowns map[string]time.Time
}

func NewDispatcher(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "commands"))
	}
	tag, err := language.Parse(opts.Locale)
	if err != nil {
		tag = language.English
	}
	d := &Dispatcher{
		store:       opts.Store,
		catalog:     opts.Catalog,
		replier:     opts.Replier,
		broadcaster: strings.ToLower(opts.Broadcaster),
		printer:     message.NewPrinter(tag),
		log:         log,
		specs:       map[string]*commandSpec{},
		aliases:     map[string]string{},
		limiters:    map[string]*userLimiter{},
		cooldowns:   map[string]time.Time{},
	}
	d.register(commandSpec{
		name: "stats", usage: "!stats [user]",
		description: "a user's emote total, favorite emote and first-seen date",
		aliases:     []string{"mystats", "emotestats"},
		handler:     d.cmdStats,
	})
	d.register(commandSpec{
		name: "top", usage: "!top",
		description: "the top emoters leaderboard",
		aliases:     []string{"leaderboard", "topemoters"},
		handler:     d.cmdTop,
	})
	d.register(commandSpec{
		name: "emote", usage: "!emote <code>",
		description: "which platform an emote comes from",
		aliases:     []string{"emoteinfo"},
		handler:     d.cmdEmote,
	})
	d.register(commandSpec{
		name: "rank", usage: "!rank",
		description: "your position on the leaderboard",
		aliases:     []string{"myrank"},
		handler:     d.cmdRank,
	})
	d.register(commandSpec{
		name: "platforms", usage: "!platforms",
		description: "emote counts per platform",
		aliases:     []string{"sources"},
		handler:     d.cmdPlatforms,
	})
	d.register(commandSpec{
		name: "help", usage: "!help [command]",
		description: "this list, or usage for one command",
		aliases:     []string{"commands"},
		handler:     d.cmdHelp,
	})
	d.register(commandSpec{
		name: "metrics", usage: "!metrics",
		description: "bot counters, broadcaster only",
		aliases:     []string{"botstats"},
		adminOnly:   true,
		handler:     d.cmdMetrics,
	})
	return d
}

func (d *Dispatcher) register(spec commandSpec) {
	d.specs[spec.name] = &spec
	d.order = append(d.order, spec.name)
	d.aliases[spec.name] = spec.name
	for _, a := range spec.aliases {
		d.aliases[a] = spec.name
	}
}

// Handle parses and runs one "!" chat line. Admission rejections stay silent;
// everything else produces exactly one reply.
func (d *Dispatcher) Handle(ctx context.Context, userID, username, text string) {
	if reply := d.dispatch(ctx, userID, username, text); reply != "" {
		d.replier.Say(reply)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, userID, username, text string) (reply string) {
	word, args := splitCommand(text)
	if word == "" {
		return ""
	}
	canonical, ok := d.aliases[word]
	if !ok {
		return unknownReply
	}
	spec := d.specs[canonical]

	if err := d.admit(username, canonical); err != nil {
		reason := "rate_limited"
		if errors.Is(err, ErrOnCooldown) {
			reason = "cooldown"
		}
		telemetry.CommandsRejected.WithLabelValues(reason).Inc()
		d.log.Debug("command rejected",
			slog.String("command", canonical), slog.String("username", username), slog.String("reason", reason))
		return ""
	}
	if spec.adminOnly && !strings.EqualFold(username, d.broadcaster) {
		telemetry.CommandsRejected.WithLabelValues("forbidden").Inc()
		return "Only the broadcaster can use !" + canonical + "."
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("command handler panic",
					slog.Any("panic", r), slog.String("command", canonical), slog.String("username", username))
				reply = errorReply
			}
		}()
		start := time.Now()
		reply = spec.handler(ctx, request{userID: userID, username: username, args: args})
		telemetry.CommandDuration.Observe(time.Since(start).Seconds())
	}()

	d.store.RecordCommand()
	telemetry.CommandsExecuted.WithLabelValues(canonical).Inc()
	return reply
}

// admit applies the cooldown then the rate limit. Rejected commands consume
// neither a rate token nor a cooldown stamp.
func (d *Dispatcher) admit(username, command string) error {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	ul, ok := d.limiters[username]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Every(perUserRate), 1)}
		d.limiters[username] = ul
	}
	ul.seen = now

	key := username + "|" + command
	if last, ok := d.cooldowns[key]; ok && now.Sub(last) < commandCooldown {
		return ErrOnCooldown
	}
	if !ul.lim.Allow() {
		return ErrRateLimited
	}
	d.cooldowns[key] = now
	return nil
}

// Sweep drops admission entries idle for longer than maxIdle and reports how
// many were removed. The scheduler runs this hourly.
func (d *Dispatcher) Sweep(maxIdle time.Duration) int {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for user, ul := range d.limiters {
		if now.Sub(ul.seen) > maxIdle {
			delete(d.limiters, user)
			removed++
		}
	}
	for key, last := range d.cooldowns {
		if now.Sub(last) > maxIdle {
			delete(d.cooldowns, key)
			removed++
		}
	}
	return removed
}

func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return "", nil
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "!")), fields[1:]
}

func (d *Dispatcher) formatInt(n int64) string {
	return d.printer.Sprintf("%d", n)
}
