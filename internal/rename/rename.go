package rename

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wapuda/tg-autosort/internal/extract"
)

var (
	ErrNoEpisode      = errors.New("rename: caption carries no episode number")
	ErrUnknownQuality = errors.New("rename: quality could not be extracted")
	ErrUnknownKey     = errors.New("rename: unknown caption key")
)

var (
	// Braced forms go first so "{episode}" is not half-replaced as "episode".
	episodePlaceholders = []string{"{episode}", "episode", "Episode", "EPISODE"}
	qualityPlaceholders = []string{"{quality}", "quality", "Quality", "QUALITY"}
)

// Apply builds a new file name from an auto-rename format. The first
// occurrence of each episode placeholder receives the caption's episode
// number; quality placeholders are replaced everywhere. The extension of
// filename is kept.
func Apply(format, caption, filename string) (string, error) {
	episode, ok := extract.EpisodeFromCaption(caption)
	if !ok {
		return "", ErrNoEpisode
	}
	out := format
	for _, p := range episodePlaceholders {
		out = strings.Replace(out, p, episode, 1)
	}
	for _, p := range qualityPlaceholders {
		if !strings.Contains(out, p) {
			continue
		}
		q := extract.Quality(caption)
		if q == extract.UnknownQuality {
			return "", ErrUnknownQuality
		}
		out = strings.ReplaceAll(out, p, q)
	}
	return out + filepath.Ext(filename), nil
}

// DefaultExtension is used for typed names when the upload had no extension.
const DefaultExtension = "mkv"

// WithExtension completes a name typed by the user. A name without a dot gets
// the extension of original, or DefaultExtension when original has none.
func WithExtension(name, original string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	ext := strings.TrimPrefix(filepath.Ext(original), ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return name + "." + ext
}

// Vars are the values available to a user caption template.
type Vars struct {
	Filename string
	Size     int64
	Duration time.Duration
}

var captionKey = regexp.MustCompile(`\{([a-zA-Z_]*)\}`)

// Caption renders a user caption template. Supported keys are {filename},
// {filesize} and {duration}.
func Caption(template string, v Vars) (string, error) {
	var bad string
	out := captionKey.ReplaceAllStringFunc(template, func(m string) string {
		switch strings.Trim(m, "{}") {
		case "filename":
			return v.Filename
		case "filesize":
			return humanize.IBytes(uint64(max(v.Size, 0)))
		case "duration":
			return Clock(v.Duration)
		default:
			if bad == "" {
				bad = m
			}
			return m
		}
	})
	if bad != "" {
		return "", fmt.Errorf("%w %s", ErrUnknownKey, bad)
	}
	return out, nil
}

// Clock formats d as HH:MM:SS.
func Clock(d time.Duration) string {
	s := int64(d / time.Second)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}
