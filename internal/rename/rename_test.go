package rename

import (
	"errors"
	"testing"
	"time"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		caption  string
		filename string
		want     string
		wantErr  error
	}{
		{
			name:     "episode and quality",
			format:   "My Show S01Eepisode [quality]",
			caption:  "My.Show.S01E07.1080p.WEB",
			filename: "upload.mkv",
			want:     "My Show S01E07 [1080p].mkv",
		},
		{
			name:     "braced placeholders",
			format:   "Show - {episode} - {quality}",
			caption:  "Show - 12 [720p]",
			filename: "x.mp4",
			want:     "Show - 12 - 720p.mp4",
		},
		{
			name:     "only first episode placeholder per spelling",
			format:   "episode episode",
			caption:  "E03",
			filename: "a.mkv",
			want:     "03 episode.mkv",
		},
		{
			name:     "no quality placeholder ignores unknown quality",
			format:   "Show Episode",
			caption:  "Show E04",
			filename: "a",
			want:     "Show 04",
		},
		{
			name:     "unknown quality refused",
			format:   "Show episode QUALITY",
			caption:  "Show E04",
			filename: "a.mkv",
			wantErr:  ErrUnknownQuality,
		},
		{
			name:     "caption without numbers",
			format:   "Show episode",
			caption:  "no numbers",
			filename: "a.mkv",
			wantErr:  ErrNoEpisode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.format, tt.caption, tt.filename)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaption(t *testing.T) {
	got, err := Caption("{filename}\nSize: {filesize}\nDuration: {duration}", Vars{
		Filename: "Show - S01E02.mkv",
		Size:     1536,
		Duration: time.Hour + 2*time.Minute + 3*time.Second,
	})
	if err != nil {
		t.Fatalf("Caption: %v", err)
	}
	want := "Show - S01E02.mkv\nSize: 1.5 KiB\nDuration: 01:02:03"
	if got != want {
		t.Errorf("Caption() = %q, want %q", got, want)
	}

	if _, err := Caption("{title}", Vars{}); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key err = %v, want ErrUnknownKey", err)
	}
}

func TestClock(t *testing.T) {
	if got := Clock(0); got != "00:00:00" {
		t.Errorf("Clock(0) = %q", got)
	}
	if got := Clock(-time.Second); got != "00:00:00" {
		t.Errorf("Clock(-1s) = %q", got)
	}
	if got := Clock(90 * time.Second); got != "00:01:30" {
		t.Errorf("Clock(90s) = %q", got)
	}
}

func TestWithExtension(t *testing.T) {
	tests := []struct {
		name, original, want string
	}{
		{"Show S01E02", "upload.mp4", "Show S01E02.mp4"},
		{"  Show S01E02 ", "upload.MKV", "Show S01E02.MKV"},
		{"Show S01E02", "upload", "Show S01E02.mkv"},
		{"Show S01E02", "", "Show S01E02.mkv"},
		{"Show S01E02", "archive.", "Show S01E02.mkv"},
		{"Show.S01E02.avi", "upload.mp4", "Show.S01E02.avi"},
		{"   ", "upload.mp4", ""},
	}
	for _, tt := range tests {
		if got := WithExtension(tt.name, tt.original); got != tt.want {
			t.Errorf("WithExtension(%q, %q) = %q, want %q", tt.name, tt.original, got, tt.want)
		}
	}
}
