package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/tg-autosort/internal/delivery"
	"github.com/wapuda/tg-autosort/internal/extract"
	"github.com/wapuda/tg-autosort/internal/sortq"
)

func TestDrainSummary(t *testing.T) {
	s1 := 1
	tests := []struct {
		name string
		out  delivery.Outcome
		want []string
	}{
		{"empty", delivery.Outcome{}, []string{"Queue is empty"}},
		{"all sent", delivery.Outcome{Attempted: 3, Sent: 3}, []string{"Sent 3 file(s)"}},
		{
			name: "partial",
			out: delivery.Outcome{Attempted: 2, Sent: 1, Failed: []delivery.Failure{{
				Identity: extract.Identity{Series: "Show", Season: &s1, Episode: 4},
				Reason:   "fatal: chat not found",
			}}},
			want: []string{"Sent 1 file(s)", "1 failed", "Show - S01E04: fatal: chat not found"},
		},
		{"none sent", delivery.Outcome{Attempted: 1, Failed: []delivery.Failure{{}}}, []string{"Nothing could be sent."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DrainSummary(tt.out)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("summary %q lacks %q", got, w)
				}
			}
		})
	}
}

func TestNotifierDrainedMessagesUser(t *testing.T) {
	api := newFakeAPI(t)
	n := NewNotifier(api.bot(t))
	n.Drained(context.Background(), 77, delivery.Outcome{Attempted: 1, Sent: 1})

	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	if got := calls[0].Form.Get("chat_id"); got != "77" {
		t.Errorf("chat_id = %q", got)
	}
}

func TestMediaOf(t *testing.T) {
	m := &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "v", FileName: "a.mkv", FileSize: 10, Duration: 3}}
	got, ok := MediaOf(m)
	if !ok || got.Kind != sortq.KindVideo || got.Size != 10 || got.Duration != 3*time.Second {
		t.Fatalf("MediaOf(video) = %+v, %v", got, ok)
	}
	doc := &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d", MimeType: "video/mp4"}}
	if got, _ := MediaOf(doc); got.Kind != sortq.KindDocument || got.DisplayName() != "file" {
		t.Fatalf("MediaOf(document) = %+v", got)
	}
	if _, ok := MediaOf(&tgbotapi.Message{Text: "hi"}); ok {
		t.Fatal("MediaOf accepted a text message")
	}
}

func TestClassifyWrapsAPIError(t *testing.T) {
	err := Classify(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"})
	var fatal *delivery.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Classify(403) = %T, want *delivery.FatalError", err)
	}
}
