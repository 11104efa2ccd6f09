// Command emote-tally is the channel emote counter bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Joins the configured Twitch channel over IRC and tallies emote usage
//     per user, detecting emotes from Twitch, 7TV, BetterTTV and FrankerFaceZ.
//   - Checkpoints statistics and the emote catalog to flat-file JSON snapshots.
//   - Celebrates milestone crossings in chat, optionally with AI-written lines.
//   - Answers !stats, !top, !rank and friends.
//   - Exposes an ops HTTP server: health/readiness, status, Prometheus
//     metrics, admin triggers, a milestone SSE feed and the OAuth bootstrap.
//
// Shutdown is graceful on SIGINT/SIGTERM: one final leaderboard export and
// statistics save run under a bounded deadline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/emote-tally/ai"
	"github.com/onnwee/emote-tally/chat"
	"github.com/onnwee/emote-tally/commands"
	"github.com/onnwee/emote-tally/config"
	"github.com/onnwee/emote-tally/crypto"
	"github.com/onnwee/emote-tally/emotes"
	"github.com/onnwee/emote-tally/oauth"
	"github.com/onnwee/emote-tally/scheduler"
	"github.com/onnwee/emote-tally/server"
	"github.com/onnwee/emote-tally/stats"
	"github.com/onnwee/emote-tally/telemetry"
	"github.com/onnwee/emote-tally/twitchapi"
)

// senderFunc adapts a closure to the chat.Sender and commands.Replier shapes,
// letting the notifier and dispatcher be built before the bot that carries
// their lines.
type senderFunc func(text string)

func (f senderFunc) Say(text string) { f(text) }

func main() {
	resetStats := flag.Bool("reset-stats", false, "wipe all statistics after confirmation, then exit")
	flag.Parse()

	// Load .env if present (local dev convenience; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	if *resetStats {
		os.Exit(runReset(cfg))
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("emote-tally", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Emote catalog over the four providers, primed from its cache snapshot.
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}
	catalog := emotes.NewCatalog(emotes.CatalogOptions{
		Path:            cfg.EmoteCache,
		RefreshInterval: cfg.EmoteRefreshInterval,
		ChannelID:       cfg.TwitchChannelID,
		Providers: []emotes.Provider{
			&emotes.TwitchProvider{Helix: helix},
			&emotes.SevenTVClient{},
			&emotes.BTTVClient{},
			&emotes.FFZClient{},
		},
		Resolver:          helix,
		DisabledPlatforms: cfg.DisabledPlatforms,
	})
	catalog.Load()

	// Statistics store, with AI milestone text when configured.
	var gen stats.Generator
	if cfg.AIEnabled && cfg.OpenAIAPIKey != "" {
		gen = &ai.Client{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			BaseURL:   cfg.OpenAIBaseURL,
			MaxTokens: cfg.OpenAIMaxToken,
		}
		slog.Info("ai milestone text enabled", slog.String("model", cfg.OpenAIModel))
	}
	store := stats.NewStore(stats.StoreOptions{
		Path:            cfg.StatsFile,
		TopUserPath:     cfg.TopUserFile,
		TopUsersPath:    cfg.TopUsersFile,
		TopUserTemplate: cfg.TopUserFormat,
		Milestones:      cfg.Milestones,
		Generator:       gen,
	})
	if err := store.Load(); err != nil {
		slog.Warn("stats snapshot unreadable, starting empty", slog.Any("err", err))
	}

	// Bot credential: the token file wins over the env token when both exist.
	ircToken := cfg.TwitchOAuthToken
	var tokens *oauth.Store
	if cfg.TokenFile != "" {
		var sealer *crypto.Sealer
		if cfg.TokenEncryptionKey != "" {
			sealer, err = crypto.NewSealer(cfg.TokenEncryptionKey)
			if err != nil {
				slog.Error("token sealing key unusable", slog.Any("err", err))
				os.Exit(1)
			}
		}
		tokens = oauth.NewStore(cfg.TokenFile, sealer)
		if tok, err := tokens.Load(); err == nil && tok.AccessToken != "" {
			ircToken = tok.AccessToken
			slog.Info("token file loaded", slog.String("login", tok.Login))
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("token file unreadable, falling back to TWITCH_OAUTH_TOKEN", slog.Any("err", err))
		}
	}

	// Chat plumbing. The say closure late-binds the bot so the notifier and
	// dispatcher can be constructed first.
	var bot *chat.Bot
	say := senderFunc(func(text string) {
		if bot != nil {
			bot.Say(text)
		}
	})
	events := server.NewHub(slog.Default().With(slog.String("component", "http")))
	notifier := chat.NewNotifier(say, cfg.Locale, events, nil)
	classifier := chat.NewClassifier(catalog, store, nil)
	dispatcher := commands.NewDispatcher(commands.Options{
		Store:       store,
		Catalog:     catalog,
		Replier:     say,
		Broadcaster: cfg.TwitchChannel,
		Locale:      cfg.Locale,
	})
	bot = chat.NewBot(chat.BotOptions{
		Channel:     cfg.TwitchChannel,
		BotUsername: cfg.TwitchBotUsername,
		OAuthToken:  ircToken,
		Classifier:  classifier,
		Commands:    dispatcher,
		Notifier:    notifier,
	})

	// Periodic tasks.
	sched := scheduler.New(slog.Default().With(slog.String("component", "scheduler")))
	sched.Add(scheduler.Task{
		Name: "auto-save", Interval: cfg.StatsSaveInterval, Jitter: true,
		Run: store.Save,
	})
	sched.Add(scheduler.Task{
		Name: "catalog-refresh", Interval: cfg.EmoteRefreshInterval, Immediate: true,
		Run: func(ctx context.Context) error {
			return catalog.Refresh(ctx, cfg.TwitchChannelID, cfg.TwitchChannel)
		},
	})
	sched.Add(scheduler.Task{
		Name: "idle-sweep", Interval: time.Minute,
		Run: func(context.Context) error {
			if time.Since(bot.LastActivity()) < cfg.IdleUnloadAfter {
				return nil
			}
			err := store.FreeMemory()
			if errors.Is(err, stats.ErrSaveInFlight) {
				return nil
			}
			return err
		},
	})
	sched.Add(scheduler.Task{
		Name: "rate-limit-sweep", Interval: cfg.RateLimitSweepEvery, Jitter: true,
		Run: func(context.Context) error {
			dispatcher.Sweep(cfg.RateLimitSweepEvery)
			return nil
		},
	})

	// Token lifecycle: scheduled refresh plus a watcher for external rotation.
	if tokens != nil {
		refresher := oauth.NewRefresher(oauth.RefresherOptions{
			Store:        tokens,
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			OnToken:      bot.SetIRCToken,
		})
		sched.Add(scheduler.Task{
			Name: "token-refresh", Interval: 5 * time.Minute, Immediate: true,
			Run: refresher.Check,
		})
		err := oauth.Watch(ctx, cfg.TokenFile, func() {
			tok, err := tokens.Load()
			if err != nil || tok.AccessToken == "" {
				slog.Warn("rotated token file unreadable", slog.Any("err", err))
				return
			}
			bot.SetIRCToken(tok.AccessToken)
			slog.Info("token file rotation applied", slog.String("login", tok.Login))
		}, slog.Default().With(slog.String("component", "oauth")))
		if err != nil {
			// Missing file until the OAuth bootstrap runs; the refresher still
			// covers scheduled rotation.
			slog.Warn("token watcher not started", slog.Any("err", err))
		}
	}
	sched.Start(ctx)

	// pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// Ops HTTP server.
	handlers := server.NewHandlers(server.HandlerOptions{
		Config:  cfg,
		Store:   store,
		Catalog: catalog,
		Chat:    bot,
		Tokens:  tokens,
		Events:  events,
	})
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Chat connection with reconnect backoff. The IRC client reconnects
	// transient drops itself; this loop covers fatal returns such as a
	// rejected login, which a later token refresh can cure.
	go func() {
		backoff := time.Second
		for {
			err := bot.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.Error("chat connection ended", slog.Any("err", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	sched.Wait()

	// Final checkpoint under a bounded deadline.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.ExportTopUsers(); err != nil {
		slog.Warn("final leaderboard export failed", slog.Any("err", err))
	}
	if err := store.Save(saveCtx); err != nil {
		slog.Error("final stats save failed", slog.Any("err", err))
	}
	store.Close()
}

// setupLogging installs the default slog handler from LOG_LEVEL
// (debug/info/warn/error) and LOG_FORMAT (text/json).
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// runReset asks for confirmation on stdin and wipes the statistics snapshot.
func runReset(cfg *config.Config) int {
	fmt.Printf("This permanently wipes all statistics in %s. Type yes to continue: ", cfg.StatsFile)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(strings.ToLower(line)) != "yes" {
		fmt.Println("aborted")
		return 1
	}
	store := stats.NewStore(stats.StoreOptions{
		Path:         cfg.StatsFile,
		TopUserPath:  cfg.TopUserFile,
		TopUsersPath: cfg.TopUsersFile,
		Milestones:   cfg.Milestones,
	})
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Reset(ctx); err != nil {
		slog.Error("reset failed", slog.Any("err", err))
		return 1
	}
	fmt.Println("statistics reset")
	return 0
}
