package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/tg-autosort/internal/sortq"
)

// Media is the file attached to an incoming message.
type Media struct {
	Kind     sortq.Kind
	FileID   string
	Name     string
	MimeType string
	Size     int64
	Duration time.Duration
}

// MediaOf picks the video, audio or document of m. Videos sent as documents
// keep the document kind.
func MediaOf(m *tgbotapi.Message) (Media, bool) {
	switch {
	case m.Video != nil:
		v := m.Video
		return Media{
			Kind: sortq.KindVideo, FileID: v.FileID, Name: v.FileName, MimeType: v.MimeType,
			Size: int64(v.FileSize), Duration: time.Duration(v.Duration) * time.Second,
		}, true
	case m.Audio != nil:
		a := m.Audio
		return Media{
			Kind: sortq.KindAudio, FileID: a.FileID, Name: a.FileName, MimeType: a.MimeType,
			Size: int64(a.FileSize), Duration: time.Duration(a.Duration) * time.Second,
		}, true
	case m.Document != nil:
		d := m.Document
		return Media{
			Kind: sortq.KindDocument, FileID: d.FileID, Name: d.FileName, MimeType: d.MimeType,
			Size: int64(d.FileSize),
		}, true
	}
	return Media{}, false
}

// DisplayName is the name used for extraction when the message has none.
func (m Media) DisplayName() string {
	if n := strings.TrimSpace(m.Name); n != "" {
		return n
	}
	switch m.Kind {
	case sortq.KindVideo:
		return "video.mp4"
	case sortq.KindAudio:
		return "audio.mp3"
	}
	return "file"
}
