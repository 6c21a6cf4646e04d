package extract

import "regexp"

// UnknownQuality is returned by Quality when no token matches.
const UnknownQuality = "Unknown"

var (
	resolutionPattern = regexp.MustCompile(`(?i)(\d{3,4}[\s._-]?p)(?:$|[^a-z0-9])`)
	marker4kPattern   = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])4k(?:$|[^a-z0-9])`)
	marker2kPattern   = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])2k(?:$|[^a-z0-9])`)
	hdRipPattern      = regexp.MustCompile(`(?i)hdrip`)
	x264Pattern       = regexp.MustCompile(`(?i)4kx264`)
	x265Pattern       = regexp.MustCompile(`(?i)4kx265`)
)

var namedQualities = []struct {
	re   *regexp.Regexp
	name string
}{
	{marker4kPattern, "4k"},
	{marker2kPattern, "2k"},
	{hdRipPattern, "HdRip"},
	{x264Pattern, "4kX264"},
	{x265Pattern, "4kx265"},
}

// Quality finds the release quality: a resolution like "1080p" first, then
// the 4k/2k markers, then named source tokens.
func Quality(text string) string {
	if m := resolutionPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, q := range namedQualities {
		if q.re.MatchString(text) {
			return q.name
		}
	}
	return UnknownQuality
}

var captionEpisodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`S(\d+)(?:E|EP)(\d+)`),
	regexp.MustCompile(`S(\d+)\s*(?:E|EP|-\s*EP)(\d+)`),
	regexp.MustCompile(`[(\[<{]?\s*(?:E|EP)\s*(\d+)\s*[)\]>}]?`),
	regexp.MustCompile(`\s*-\s*(\d+)\s*`),
	regexp.MustCompile(`(?i)S(\d+)\D*(\d+)`),
	regexp.MustCompile(`(\d+)`),
}

// EpisodeFromCaption pulls the episode number out of an upload caption with a
// shorter, more permissive cascade than Extract. The digits are returned as
// written so zero padding survives template substitution.
func EpisodeFromCaption(caption string) (string, bool) {
	for _, re := range captionEpisodePatterns {
		m := re.FindStringSubmatch(caption)
		if m == nil {
			continue
		}
		return m[len(m)-1], true
	}
	return "", false
}
