package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/logx"
)

// Notifier tells users, in their private chat, what a drain did.
type Notifier struct {
	bot *tgbotapi.BotAPI
}

func NewNotifier(bot *tgbotapi.BotAPI) *Notifier { return &Notifier{bot: bot} }

func (n *Notifier) Drained(ctx context.Context, user int64, out delivery.Outcome) {
	if err := n.Reply(user, DrainSummary(out)); err != nil {
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Msg("drain notice not delivered")
	}
}

// Reply sends a plain text message.
func (n *Notifier) Reply(chatID int64, text string) error {
	_, err := n.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// ReplyHTML sends an HTML formatted message.
func (n *Notifier) ReplyHTML(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := n.bot.Send(msg)
	return err
}

// DrainSummary renders an outcome for the user.
func DrainSummary(out delivery.Outcome) string {
	var b strings.Builder
	switch {
	case out.Attempted == 0:
		b.WriteString("Queue is empty, nothing to send.")
	case out.Sent == 0:
		b.WriteString("Nothing could be sent.")
	default:
		fmt.Fprintf(&b, "✅ Sent %d file(s) to the channel in order.", out.Sent)
	}
	if len(out.Failed) > 0 {
		fmt.Fprintf(&b, "\n❌ %d failed and stay queued:", len(out.Failed))
		for _, f := range out.Failed {
			fmt.Fprintf(&b, "\n• %s: %s", f.Identity.Label(), f.Reason)
		}
	}
	return b.String()
}
