// Package ingest holds the worker's task handlers: uploads go through the
// rename and sort pipeline, queue commands go to the controller.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/wapuda/tg-autosort/internal/autosort"
	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/jobs"
	"github.com/wapuda/tg-autosort/internal/logx"
	"github.com/wapuda/tg-autosort/internal/prefs"
	"github.com/wapuda/tg-autosort/internal/rename"
	"github.com/wapuda/tg-autosort/internal/sortq"
	"github.com/wapuda/tg-autosort/internal/telegram"
)

// Settings loads a user's preferences.
type Settings interface {
	Settings(ctx context.Context, user int64) (prefs.Settings, error)
}

// Files downloads uploads and frees them again.
type Files interface {
	Download(ctx context.Context, fileID, name string) (path string, size int64, err error)
	Release(m sortq.MediaRef)
}

// Replier answers users in their private chat.
type Replier interface {
	Reply(chatID int64, text string) error
	ReplyHTML(chatID int64, text string) error
}

// DirectSender returns a sender that posts back into chatID with the caption
// taken as ready HTML.
type DirectSender func(chatID int64) delivery.Sender

type Handler struct {
	ctrl    *autosort.Controller
	prefs   Settings
	files   Files
	reply   Replier
	direct  DirectSender
	isAdmin func(user int64) bool
}

func NewHandler(ctrl *autosort.Controller, settings Settings, files Files, reply Replier, direct DirectSender, isAdmin func(int64) bool) *Handler {
	return &Handler{ctrl: ctrl, prefs: settings, files: files, reply: reply, direct: direct, isAdmin: isAdmin}
}

// Register wires every task type into mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(jobs.TaskIngest, h.HandleIngest)
	mux.HandleFunc(jobs.TaskDrain, h.HandleDrain)
	mux.HandleFunc(jobs.TaskClear, h.HandleClear)
	mux.HandleFunc(jobs.TaskStatus, h.HandleStatus)
}

func taskCtx(ctx context.Context, user int64) (context.Context, zerolog.Logger) {
	ctx = logx.WithUser(ctx, user)
	if id, ok := asynq.GetTaskID(ctx); ok {
		ctx = logx.WithTask(ctx, id)
	}
	return ctx, logx.FromCtx(ctx)
}

func (h *Handler) HandleIngest(ctx context.Context, t *asynq.Task) error {
	p, err := jobs.Decode[jobs.IngestPayload](t)
	if err != nil {
		return err
	}
	ctx, log := taskCtx(ctx, p.UserID)

	st, err := h.prefs.Settings(ctx, p.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("settings unavailable, using defaults")
		st = prefs.Settings{}
	}

	name := p.FileName
	if strings.TrimSpace(name) == "" {
		name = telegram.Media{Kind: sortq.Kind(p.Kind)}.DisplayName()
	}
	switch {
	case strings.TrimSpace(p.NewName) != "":
		name = rename.WithExtension(p.NewName, name)
		log.Debug().Str("from", p.FileName).Str("to", name).Msg("renamed by hand")
	case st.AutoRename && st.RenameFormat != "":
		renamed, err := rename.Apply(st.RenameFormat, p.Caption, name)
		if err != nil {
			_ = h.reply.Reply(p.ChatID, renameFailure(err))
			return fmt.Errorf("rename %q: %v: %w", name, err, asynq.SkipRetry)
		}
		log.Debug().Str("from", name).Str("to", renamed).Msg("renamed")
		name = renamed
	}

	kind, ok := sortq.ParseKind(string(st.MediaType))
	if !ok {
		if kind, ok = sortq.ParseKind(p.Kind); !ok {
			kind = sortq.KindDocument
		}
	}

	path, size, err := h.files.Download(ctx, p.FileID, name)
	if err != nil {
		if class, _ := delivery.Classify(err); class == delivery.ClassFatal {
			_ = h.reply.Reply(p.ChatID, "❌ Download failed: "+err.Error())
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("download %s: %w", p.FileID, err)
	}
	media := sortq.MediaRef{
		Kind:     kind,
		Path:     path,
		FileID:   p.FileID,
		Name:     name,
		Size:     size,
		Duration: time.Duration(p.DurationSec) * time.Second,
	}
	if st.Thumb != "" {
		if thumb, _, err := h.files.Download(ctx, st.Thumb, "thumb.jpg"); err == nil {
			media.Thumb = thumb
		} else {
			log.Warn().Err(err).Msg("thumbnail download failed, sending without")
		}
	}

	if h.isAdmin(p.UserID) {
		id := h.ctrl.Submit(ctx, p.UserID, name, media)
		_ = h.reply.Reply(p.ChatID, fmt.Sprintf("📥 Queued %s (%s). It goes out with the rest of the batch.", id.Label(), id.Quality))
		return nil
	}
	return h.sendDirect(ctx, log, p, st, media)
}

func (h *Handler) sendDirect(ctx context.Context, log zerolog.Logger, p jobs.IngestPayload, st prefs.Settings, media sortq.MediaRef) error {
	defer h.files.Release(media)

	caption := telegram.BoldCaption(media.Name)
	if st.Caption != "" {
		c, err := rename.Caption(st.Caption, rename.Vars{Filename: html.EscapeString(media.Name), Size: media.Size, Duration: media.Duration})
		if err != nil {
			log.Warn().Err(err).Msg("caption template rejected, using file name")
		} else {
			caption = c
		}
	}

	err := h.ctrl.Worker().Deliver(ctx, h.direct(p.ChatID), delivery.Request{Media: media, Caption: caption})
	if err != nil {
		_ = h.reply.Reply(p.ChatID, "❌ Could not send the file back: "+err.Error())
		return fmt.Errorf("direct send: %v: %w", err, asynq.SkipRetry)
	}
	log.Info().Str("name", media.Name).Msg("sent back")
	return nil
}

func renameFailure(err error) string {
	switch {
	case errors.Is(err, rename.ErrNoEpisode):
		return "❌ The caption has no episode number, so the file could not be renamed."
	case errors.Is(err, rename.ErrUnknownQuality):
		return "❌ Quality could not be read from the caption, so the file could not be renamed."
	}
	return "❌ Rename failed: " + err.Error()
}

func (h *Handler) HandleDrain(ctx context.Context, t *asynq.Task) error {
	p, err := jobs.Decode[jobs.QueuePayload](t)
	if err != nil {
		return err
	}
	ctx, _ = taskCtx(ctx, p.UserID)
	if !h.isAdmin(p.UserID) {
		return h.reply.Reply(p.ChatID, notAdmin)
	}
	out := h.ctrl.ForceDrain(ctx, p.UserID)
	return h.reply.Reply(p.ChatID, telegram.DrainSummary(out))
}

func (h *Handler) HandleClear(ctx context.Context, t *asynq.Task) error {
	p, err := jobs.Decode[jobs.QueuePayload](t)
	if err != nil {
		return err
	}
	_, log := taskCtx(ctx, p.UserID)
	if !h.isAdmin(p.UserID) {
		return h.reply.Reply(p.ChatID, notAdmin)
	}
	if !h.ctrl.Clear(p.UserID) {
		return h.reply.Reply(p.ChatID, "Queue is already empty.")
	}
	log.Info().Msg("queue cleared")
	return h.reply.Reply(p.ChatID, "🗑 Queue cleared.")
}

func (h *Handler) HandleStatus(ctx context.Context, t *asynq.Task) error {
	p, err := jobs.Decode[jobs.QueuePayload](t)
	if err != nil {
		return err
	}
	if !h.isAdmin(p.UserID) {
		return h.reply.Reply(p.ChatID, notAdmin)
	}
	groups := h.ctrl.Status(p.UserID)
	if len(groups) == 0 {
		return h.reply.Reply(p.ChatID, "Queue is empty.")
	}
	return h.reply.ReplyHTML(p.ChatID, StatusMessage(groups, h.ctrl.Pending(p.UserID)))
}

const notAdmin = "Only channel admins have a sorted queue. Files you send come straight back renamed."
