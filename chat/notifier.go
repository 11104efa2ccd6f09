package chat

import (
	"log/slog"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/onnwee/emote-tally/stats"
)

// Sender delivers one outbound chat line, fire and forget.
type Sender interface {
	Say(text string)
}

// EventPublisher mirrors milestone events to out-of-band subscribers, such as
// the ops server's SSE feed.
type EventPublisher interface {
	PublishMilestone(ev stats.MilestoneEvent)
}

// Notifier formats milestone celebrations and sends exactly one chat line per
// event.
type Notifier struct {
	sender  Sender
	pub     EventPublisher
	printer *message.Printer
	log     *slog.Logger
}

// NewNotifier builds a notifier that formats counts for the given BCP 47
// locale; unparseable locales fall back to English. pub may be nil.
func NewNotifier(sender Sender, locale string, pub EventPublisher, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default().With(slog.String("component", "chat"))
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Notifier{sender: sender, pub: pub, printer: message.NewPrinter(tag), log: log}
}

// Notify substitutes {count} (locale-grouped) and {username} into the event
// text and sends the result. Subscribers receive the rendered line, not the
// template.
func (n *Notifier) Notify(ev stats.MilestoneEvent) {
	count := n.printer.Sprintf("%d", ev.Threshold)
	line := strings.NewReplacer("{count}", count, "{username}", ev.Username).Replace(ev.Text)
	n.sender.Say(line)
	n.log.Info("milestone announced",
		slog.String("username", ev.Username), slog.Int64("threshold", ev.Threshold))
	if n.pub != nil {
		ev.Text = line
		n.pub.PublishMilestone(ev)
	}
}
