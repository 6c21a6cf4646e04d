package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wapuda/tg-autosort/internal/config"
	"github.com/wapuda/tg-autosort/internal/health"
	"github.com/wapuda/tg-autosort/internal/jobs"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/prefs"
	"github.com/wapuda/tg-autosort/internal/rename"
	"github.com/wapuda/tg-autosort/internal/sortq"
	"github.com/wapuda/tg-autosort/internal/telegram"
)

const (
	stateAwaitingFormat  = "awaiting_format"
	stateAwaitingCaption = "awaiting_caption"
	stateAwaitingName    = "awaiting_name"
)

type server struct {
	cfg   config.Config
	bot   *tgbotapi.BotAPI
	prefs *prefs.Store
	jobs  jobs.Enqueuer
}

func main() {
	c := config.Load()
	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	if c.BotToken == "" {
		log.Fatal().Err(config.ErrMissingToken).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("bot auth")
	}
	log.Info().Str("username", bot.Self.UserName).Msg("bot authorized")

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer rdb.Close()
	asClient := asynq.NewClient(asynq.RedisClientOpt{Addr: c.RedisAddr})
	defer asClient.Close()

	s := &server{cfg: c, bot: bot, prefs: prefs.New(rdb), jobs: asClient}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := bot.GetUpdatesChan(u)
		for {
			select {
			case <-gctx.Done():
				bot.StopReceivingUpdates()
				return nil
			case upd, ok := <-updates:
				if !ok {
					return nil
				}
				switch {
				case upd.Message != nil:
					s.onMessage(gctx, upd.Message)
				case upd.CallbackQuery != nil:
					s.onCallback(gctx, upd.CallbackQuery)
				}
			}
		}
	})
	g.Go(func() error {
		return health.Serve(gctx, c.HealthAddr, map[string]health.Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("bot stopped")
	}
}

// --- Handlers ---

func (s *server) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil {
		return
	}
	ctx = logx.WithUser(ctx, m.From.ID)
	l := logx.FromCtx(ctx)
	l.Debug().Int64("chat_id", m.Chat.ID).Msg("message received")

	if m.IsCommand() {
		s.onCommand(ctx, m)
		return
	}

	if len(m.Photo) > 0 {
		// largest size comes last
		photo := m.Photo[len(m.Photo)-1]
		if err := s.prefs.SetThumb(ctx, m.From.ID, photo.FileID); err != nil {
			s.internalError(m.Chat.ID, err)
			return
		}
		s.send(m.Chat.ID, "🖼 Thumbnail saved. /delthumb removes it.")
		return
	}

	if media, ok := telegram.MediaOf(m); ok {
		s.ingest(ctx, m, media)
		return
	}

	if m.Text != "" {
		s.onText(ctx, m)
	}
}

func (s *server) onCommand(ctx context.Context, m *tgbotapi.Message) {
	user, chat := m.From.ID, m.Chat.ID
	args := strings.TrimSpace(m.CommandArguments())

	switch m.Command() {
	case "start", "help":
		s.send(chat, helpText(s.cfg.IsAdmin(user)))
	case "sendsorted":
		s.queueTask(ctx, m, jobs.TaskDrain, "⏳ Sending your queue in order…")
	case "clearqueue":
		s.queueTask(ctx, m, jobs.TaskClear, "")
	case "queue":
		s.queueTask(ctx, m, jobs.TaskStatus, "")
	case "autorename":
		on, ok := parseToggle(args)
		if !ok {
			s.send(chat, "Usage: /autorename on|off")
			return
		}
		if err := s.prefs.SetAutoRename(ctx, user, on); err != nil {
			s.internalError(chat, err)
			return
		}
		if on {
			_ = s.prefs.SetManualRename(ctx, user, false)
		}
		s.send(chat, "Auto rename is "+onOff(on)+".")
	case "manualrename":
		on, ok := parseToggle(args)
		if !ok {
			s.send(chat, "Usage: /manualrename on|off")
			return
		}
		if err := s.prefs.SetManualRename(ctx, user, on); err != nil {
			s.internalError(chat, err)
			return
		}
		if on {
			_ = s.prefs.SetAutoRename(ctx, user, false)
		} else {
			_ = s.prefs.DelPendingFile(ctx, user)
		}
		if on {
			s.send(chat, "Manual rename is on. I ask for a name after every upload.")
			return
		}
		s.send(chat, "Manual rename is off.")
	case "setformat":
		if args == "" {
			_ = s.prefs.SetState(ctx, user, stateAwaitingFormat)
			s.send(chat, "Send the rename format, e.g. Show S01E{episode} [{quality}]")
			return
		}
		s.saveFormat(ctx, chat, user, args)
	case "delformat":
		if err := s.prefs.DelRenameFormat(ctx, user); err != nil {
			s.internalError(chat, err)
			return
		}
		s.send(chat, "Rename format removed.")
	case "setcaption":
		if args == "" {
			_ = s.prefs.SetState(ctx, user, stateAwaitingCaption)
			s.send(chat, "Send the caption template. Keys: {filename} {filesize} {duration}")
			return
		}
		s.saveCaption(ctx, chat, user, args)
	case "delcaption":
		if err := s.prefs.DelCaption(ctx, user); err != nil {
			s.internalError(chat, err)
			return
		}
		s.send(chat, "Caption template removed.")
	case "delthumb":
		if err := s.prefs.DelThumb(ctx, user); err != nil {
			s.internalError(chat, err)
			return
		}
		s.send(chat, "Thumbnail removed.")
	case "mediatype":
		s.askMediaType(chat)
	case "settings":
		st, err := s.prefs.Settings(ctx, user)
		if err != nil {
			s.internalError(chat, err)
			return
		}
		s.sendHTML(chat, settingsText(st))
	case "cancel":
		_ = s.prefs.ClearState(ctx, user)
		_ = s.prefs.DelPendingFile(ctx, user)
		s.send(chat, "Cancelled.")
	default:
		s.send(chat, "Unknown command. /help lists them.")
	}
}

func (s *server) onText(ctx context.Context, m *tgbotapi.Message) {
	user, chat := m.From.ID, m.Chat.ID
	state, err := s.prefs.State(ctx, user)
	if err != nil {
		s.internalError(chat, err)
		return
	}
	switch state {
	case stateAwaitingFormat:
		s.saveFormat(ctx, chat, user, m.Text)
	case stateAwaitingCaption:
		s.saveCaption(ctx, chat, user, m.Text)
	case stateAwaitingName:
		if !s.renamePending(ctx, m) {
			return
		}
	default:
		s.send(chat, "Send a video, audio or document. /help lists the commands.")
		return
	}
	_ = s.prefs.ClearState(ctx, user)
}

func (s *server) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	user, chat := cq.From.ID, cq.Message.Chat.ID
	data := cq.Data

	if strings.HasPrefix(data, "media:") {
		kind, ok := sortq.ParseKind(strings.TrimPrefix(data, "media:"))
		if !ok {
			_ = s.answerCB(cq, "Unknown type")
			return
		}
		if err := s.prefs.SetMediaType(ctx, user, kind); err != nil {
			_ = s.answerCB(cq, "Internal error")
			return
		}
		_ = s.answerCB(cq, "Files will be sent as "+string(kind))
		l := logx.FromCtx(logx.WithUser(ctx, user))
		l.Info().Str("kind", string(kind)).Msg("media type selected")
		s.send(chat, fmt.Sprintf("Media type: %s ✅", kind))
		return
	}
	_ = s.answerCB(cq, "")
}

// --- Ingest & queue ---

func (s *server) ingest(ctx context.Context, m *tgbotapi.Message, media telegram.Media) {
	p := ingestPayload(m, media)
	manual, err := s.prefs.ManualRename(ctx, m.From.ID)
	if err != nil {
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Msg("rename mode unavailable, treating as automatic")
	}
	if manual {
		s.askName(ctx, m, p)
		return
	}
	s.enqueue(ctx, m.Chat.ID, p)
}

// askName parks the upload and asks for its new name with a forced reply.
func (s *server) askName(ctx context.Context, m *tgbotapi.Message, p jobs.IngestPayload) {
	b, err := json.Marshal(p)
	if err != nil {
		s.internalError(m.Chat.ID, err)
		return
	}
	if err := s.prefs.SetPendingFile(ctx, m.From.ID, b); err != nil {
		s.internalError(m.Chat.ID, err)
		return
	}
	if err := s.prefs.SetState(ctx, m.From.ID, stateAwaitingName); err != nil {
		s.internalError(m.Chat.ID, err)
		return
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, "✏️ Enter the new file name…")
	msg.ReplyToMessageID = m.MessageID
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	if _, err := s.bot.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", m.Chat.ID).Msg("reply failed")
	}
}

// renamePending enqueues the parked upload under the typed name. It reports
// whether the dialog is over.
func (s *server) renamePending(ctx context.Context, m *tgbotapi.Message) bool {
	user, chat := m.From.ID, m.Chat.ID
	b, err := s.prefs.PendingFile(ctx, user)
	if err != nil {
		s.internalError(chat, err)
		return false
	}
	if b == nil {
		s.send(chat, "That upload expired. Send the file again.")
		return true
	}
	var p jobs.IngestPayload
	if err := json.Unmarshal(b, &p); err != nil {
		_ = s.prefs.DelPendingFile(ctx, user)
		s.internalError(chat, err)
		return true
	}
	p, ok := withTypedName(p, m.Text)
	if !ok {
		s.send(chat, "The name is empty. Type a file name, or /cancel.")
		return false
	}
	_ = s.prefs.DelPendingFile(ctx, user)
	s.enqueue(ctx, chat, p)
	return true
}

// withTypedName sets the name the user typed, completing its extension from
// the upload.
func withTypedName(p jobs.IngestPayload, text string) (jobs.IngestPayload, bool) {
	name := rename.WithExtension(text, p.FileName)
	if name == "" {
		return p, false
	}
	p.NewName = name
	return p, true
}

func (s *server) enqueue(ctx context.Context, chat int64, p jobs.IngestPayload) {
	err := jobs.EnqueueIngest(ctx, s.jobs, p)
	switch {
	case errors.Is(err, jobs.ErrDuplicate):
		s.send(chat, "⏳ This file is already being processed.")
	case err != nil:
		l := logx.FromCtx(ctx)
		l.Error().Err(err).Msg("enqueue ingest failed")
		s.send(chat, "Queue error: "+err.Error())
	default:
		l := logx.FromCtx(ctx)
		l.Info().Str("file", p.FileName).Str("name", p.NewName).Str("kind", p.Kind).Msg("file enqueued")
	}
}

func ingestPayload(m *tgbotapi.Message, media telegram.Media) jobs.IngestPayload {
	p := jobs.IngestPayload{
		ChatID:      m.Chat.ID,
		UserID:      m.From.ID,
		FileID:      media.FileID,
		FileName:    media.DisplayName(),
		MimeType:    media.MimeType,
		Kind:        string(media.Kind),
		Size:        media.Size,
		DurationSec: int(media.Duration.Seconds()),
		Caption:     m.Caption,
	}
	switch {
	case m.Video != nil:
		p.FileUniqueID = m.Video.FileUniqueID
	case m.Audio != nil:
		p.FileUniqueID = m.Audio.FileUniqueID
	case m.Document != nil:
		p.FileUniqueID = m.Document.FileUniqueID
	}
	return p
}

func (s *server) queueTask(ctx context.Context, m *tgbotapi.Message, typename, ack string) {
	if !s.cfg.IsAdmin(m.From.ID) {
		s.send(m.Chat.ID, "Only channel admins have a sorted queue.")
		return
	}
	p := jobs.QueuePayload{ChatID: m.Chat.ID, UserID: m.From.ID}
	if err := jobs.EnqueueQueue(ctx, s.jobs, typename, p); err != nil {
		l := logx.FromCtx(ctx)
		l.Error().Err(err).Str("task", typename).Msg("enqueue failed")
		s.send(m.Chat.ID, "Queue error: "+err.Error())
		return
	}
	if ack != "" {
		s.send(m.Chat.ID, ack)
	}
}

// --- Settings ---

func (s *server) saveFormat(ctx context.Context, chat, user int64, format string) {
	format = strings.TrimSpace(format)
	if err := s.prefs.SetRenameFormat(ctx, user, format); err != nil {
		s.internalError(chat, err)
		return
	}
	s.sendHTML(chat, "Rename format saved: <code>"+html.EscapeString(format)+"</code>\nTurn it on with /autorename on")
}

func (s *server) saveCaption(ctx context.Context, chat, user int64, tpl string) {
	if err := s.prefs.SetCaption(ctx, user, tpl); err != nil {
		s.internalError(chat, err)
		return
	}
	s.send(chat, "Caption template saved.")
}

func (s *server) askMediaType(chatID int64) {
	btns := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Video", "media:video"),
			tgbotapi.NewInlineKeyboardButtonData("Document", "media:document"),
			tgbotapi.NewInlineKeyboardButtonData("Audio", "media:audio"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Send files back as:")
	msg.ReplyMarkup = btns
	_, _ = s.bot.Send(msg)
}

func settingsText(st prefs.Settings) string {
	val := func(v string) string {
		if v == "" {
			return "not set"
		}
		return "<code>" + html.EscapeString(v) + "</code>"
	}
	kind := string(st.MediaType)
	if kind == "" {
		kind = "as uploaded"
	}
	return fmt.Sprintf("<b>Settings</b>\nRename: %s\nFormat: %s\nMedia type: %s\nCaption: %s\nThumbnail: %s",
		renameMode(st), val(st.RenameFormat), kind, val(st.Caption), map[bool]string{true: "set", false: "not set"}[st.Thumb != ""])
}

func renameMode(st prefs.Settings) string {
	switch {
	case st.ManualRename:
		return "manual"
	case st.AutoRename:
		return "auto"
	}
	return "off"
}

func helpText(admin bool) string {
	b := strings.Builder{}
	b.WriteString("Send videos, audio or documents and I rename them.\n\n" +
		"/setformat – rename format ({episode}, {quality})\n" +
		"/autorename on|off – rename from the caption\n" +
		"/manualrename on|off – type a name for every upload\n" +
		"/mediatype – send back as video, document or audio\n" +
		"/setcaption, /delcaption – caption template\n" +
		"Send a photo to set a thumbnail, /delthumb removes it\n" +
		"/settings – show your settings")
	if admin {
		b.WriteString("\n\nChannel admin: uploads are collected and posted to the channel in episode order " +
			"a few seconds after the last one.\n" +
			"/sendsorted – post the queue now\n" +
			"/queue – show what is queued\n" +
			"/clearqueue – drop the queue")
	}
	return b.String()
}

func parseToggle(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "yes", "true":
		return true, true
	case "off", "0", "no", "false":
		return false, true
	}
	return false, false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// --- Telegram helpers ---

func (s *server) send(chatID int64, text string) {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}

func (s *server) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}

func (s *server) internalError(chatID int64, err error) {
	log.Error().Err(err).Int64("chat_id", chatID).Msg("internal error")
	s.send(chatID, "Internal error. Try again.")
}

func (s *server) answerCB(cq *tgbotapi.CallbackQuery, text string) error {
	_, err := s.bot.Request(tgbotapi.NewCallback(cq.ID, text))
	return err
}
