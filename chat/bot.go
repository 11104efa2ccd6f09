package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/emote-tally/telemetry"
)

// CommandHandler consumes "!"-prefixed chat lines.
type CommandHandler interface {
	Handle(ctx context.Context, userID, username, text string)
}

// BotOptions configures the IRC bot.
type BotOptions struct {
	Channel     string
	BotUsername string
	// OAuthToken is the bot's user access token; the oauth: prefix is added
	// when missing.
	OAuthToken string
	Classifier *Classifier
	Commands   CommandHandler
	Notifier   *Notifier
	Logger     *slog.Logger
}

// Bot owns the Twitch IRC connection and routes inbound messages: commands to
// the dispatcher, everything else through the classifier.
type Bot struct {
	client   *twitch.Client
	channel  string
	botLogin string

	classifier *Classifier
	commands   CommandHandler
	notifier   *Notifier
	log        *slog.Logger

	connected    atomic.Bool
	lastActivity atomic.Int64
}

func NewBot(opts BotOptions) *Bot {
	log := opts.Logger
	if log == nil {
		log = slog.Default().With(slog.String("component", "chat"))
	}
	b := &Bot{
		channel:    opts.Channel,
		botLogin:   strings.ToLower(opts.BotUsername),
		classifier: opts.Classifier,
		commands:   opts.Commands,
		notifier:   opts.Notifier,
		log:        log,
	}
	b.lastActivity.Store(time.Now().UnixNano())

	client := twitch.NewClient(opts.BotUsername, ircToken(opts.OAuthToken))
	client.OnConnect(func() {
		b.connected.Store(true)
		telemetry.SetChatConnected(true)
		log.Info("connected to twitch chat", slog.String("channel", opts.Channel))
	})
	client.OnPrivateMessage(b.onMessage)
	client.Join(opts.Channel)
	b.client = client
	return b
}

// Run connects and blocks until the connection drops or ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := b.client.Disconnect(); err != nil {
				b.log.Warn("chat disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()
	err := b.client.Connect()
	close(done)
	b.connected.Store(false)
	telemetry.SetChatConnected(false)
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return err
	}
	return nil
}

// Say sends one line to the joined channel, fire and forget.
func (b *Bot) Say(text string) {
	b.client.Say(b.channel, text)
}

// SetIRCToken swaps the credential used on the next (re)connect, so a rotated
// token takes effect without restarting the process.
func (b *Bot) SetIRCToken(token string) {
	b.client.SetIRCToken(ircToken(token))
}

// Connected reports whether the IRC session is up.
func (b *Bot) Connected() bool { return b.connected.Load() }

// LastActivity returns when the last inbound chat message arrived.
func (b *Bot) LastActivity() time.Time {
	return time.Unix(0, b.lastActivity.Load())
}

func (b *Bot) onMessage(msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, b.botLogin) {
		return
	}
	b.lastActivity.Store(time.Now().UnixNano())
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())

	if strings.HasPrefix(msg.Message, "!") {
		if b.commands != nil {
			b.commands.Handle(ctx, msg.User.ID, msg.User.Name, msg.Message)
		}
		return
	}
	if b.classifier == nil {
		return
	}
	events := b.classifier.ProcessMessage(ctx, msg.User.Name, msg.Message)
	if b.notifier == nil {
		return
	}
	for _, ev := range events {
		b.notifier.Notify(ev)
	}
}

func ircToken(tok string) string {
	if tok == "" || strings.HasPrefix(tok, "oauth:") {
		return tok
	}
	return "oauth:" + tok
}
