package telegram

import (
	"context"
	"errors"
	"html"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

// Sender posts media to one chat through the Bot API.
type Sender struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	thumb   string
	caption func(string) string
}

type SenderOption func(*Sender)

// WithRatePerMinute paces sends; n <= 0 disables pacing.
func WithRatePerMinute(n int) SenderOption {
	return func(s *Sender) {
		if n <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// WithThumb attaches a local thumbnail to every send.
func WithThumb(path string) SenderOption { return func(s *Sender) { s.thumb = path } }

// WithCaptionFormat replaces the default bold caption rendering. fn gets the
// raw caption and returns HTML.
func WithCaptionFormat(fn func(string) string) SenderOption {
	return func(s *Sender) { s.caption = fn }
}

func NewSender(bot *tgbotapi.BotAPI, chatID int64, opts ...SenderOption) *Sender {
	s := &Sender{bot: bot, chatID: chatID, caption: BoldCaption}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BoldCaption escapes text and wraps it in <b>.
func BoldCaption(text string) string {
	if text == "" {
		return ""
	}
	return "<b>" + html.EscapeString(text) + "</b>"
}

func (s *Sender) Send(ctx context.Context, req delivery.Request) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.build(req))
	return Classify(err)
}

func (s *Sender) build(req delivery.Request) tgbotapi.Chattable {
	file := fileData(req.Media)
	caption := s.caption(req.Caption)
	thumbPath := req.Media.Thumb
	if thumbPath == "" {
		thumbPath = s.thumb
	}
	var thumb tgbotapi.RequestFileData
	if thumbPath != "" {
		thumb = tgbotapi.FilePath(thumbPath)
	}
	secs := int(req.Media.Duration / time.Second)

	switch req.Kind {
	case sortq.KindVideo:
		v := tgbotapi.NewVideo(s.chatID, file)
		v.Caption, v.ParseMode = caption, tgbotapi.ModeHTML
		v.Thumb = thumb
		v.Duration = secs
		v.SupportsStreaming = true
		return v
	case sortq.KindAudio:
		a := tgbotapi.NewAudio(s.chatID, file)
		a.Caption, a.ParseMode = caption, tgbotapi.ModeHTML
		a.Thumb = thumb
		a.Duration = secs
		return a
	default:
		d := tgbotapi.NewDocument(s.chatID, file)
		d.Caption, d.ParseMode = caption, tgbotapi.ModeHTML
		d.Thumb = thumb
		return d
	}
}

func fileData(m sortq.MediaRef) tgbotapi.RequestFileData {
	if m.Path != "" {
		return tgbotapi.FilePath(m.Path)
	}
	return tgbotapi.FileID(m.FileID)
}

// Classify tags a Bot API error for the delivery retry policy: 429 becomes
// flood control with the server's retry_after, 5xx and network failures are
// transient and every other API error is fatal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= 0 {
				wait = time.Second
			}
			return delivery.Flood(wait, err)
		case apiErr.Code >= 500:
			return delivery.Transient(err)
		default:
			return delivery.Fatal(err)
		}
	}
	// transport or decoding failure
	return delivery.Transient(err)
}
