package extract

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Identity is the canonical identity recovered from a release name or caption.
// Season is nil when the text carried no season marker.
type Identity struct {
	Series  string `json:"series"`
	Season  *int   `json:"season,omitempty"`
	Episode int    `json:"episode"`
	Quality string `json:"quality"`
}

// SeasonOr returns the season number, or def when the season is absent.
func (id Identity) SeasonOr(def int) int {
	if id.Season == nil {
		return def
	}
	return *id.Season
}

// Label renders "Series - S01E02", or "Series - Episode 02" without a season.
func (id Identity) Label() string {
	if id.Season != nil {
		return id.Series + " - S" + pad2(*id.Season) + "E" + pad2(id.Episode)
	}
	return id.Series + " - Episode " + pad2(id.Episode)
}

func pad2(n int) string {
	if n >= 0 && n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// Rule is one step of the extraction cascade.
type Rule struct {
	Name  string
	Match func(text string) (Identity, bool)
}

// Rule names, in cascade order.
const (
	RuleSeasonEpisode = "season+episode"
	RuleEpisodeMarker = "episode-marker"
	RuleDelimited     = "delimited-number"
	RuleShortNumber   = "short-number"
	RuleBracketed     = "bracketed-number"
	RuleParenthesized = "parenthesized-number"
	RuleLastNumeral   = "last-numeral"
	RuleFallback      = "fallback"
)

var (
	seasonPattern      = regexp.MustCompile(`(?i)(S(?:aison)?|Season)[\s._-]*(\d+)`)
	episodePattern     = regexp.MustCompile(`(?i)(E(?:p(?:isode)?)?|Épisode|EP|Ep)[\s._-]*(\d+)`)
	episodeOnlyPattern = regexp.MustCompile(`(?i)(?:E|Ep|Episode|EP|Épisode)[\s._-]*(\d+)`)

	delimitedPattern     = regexp.MustCompile(`[.\s_-](\d{2,3})[.\s_-]`)
	shortNumberPattern   = regexp.MustCompile(`[.\s_-](\d{1,2})[.\s]`)
	bracketedPattern     = regexp.MustCompile(`\[(\d{2,3})\]`)
	parenthesizedPattern = regexp.MustCompile(`\((\d{2,3})\)`)

	numberPattern         = regexp.MustCompile(`\d+`)
	trailingNumBrackets   = regexp.MustCompile(`[\d\[\]()]+$`)
	trailingNumericTokens = regexp.MustCompile(`(?:[\s._-]*\d+)+[\s._-]*$`)
)

// resolutionTokens are never taken as episode numbers.
var resolutionTokens = map[string]bool{
	"720": true, "1080": true, "480": true, "2160": true,
	"4k": true, "hd": true, "fullhd": true,
}

// Cascade is the ordered rule list used by Extract. First match wins.
var Cascade = []Rule{
	{Name: RuleSeasonEpisode, Match: matchSeasonEpisode},
	{Name: RuleEpisodeMarker, Match: matchEpisodeMarker},
	{Name: RuleDelimited, Match: numberRule(delimitedPattern)},
	{Name: RuleShortNumber, Match: numberRule(shortNumberPattern)},
	{Name: RuleBracketed, Match: numberRule(bracketedPattern)},
	{Name: RuleParenthesized, Match: numberRule(parenthesizedPattern)},
	{Name: RuleLastNumeral, Match: matchLastNumeral},
}

// Extract recovers series, season, episode and quality from text. It never
// fails: text that no rule understands yields (text, season 1, episode 1).
func Extract(text string) Identity {
	id, _ := ExtractRule(text)
	return id
}

// ExtractRule is Extract that also reports which cascade rule produced the
// identity.
func ExtractRule(text string) (Identity, string) {
	text = norm.NFC.String(text)
	quality := Quality(text)
	for _, r := range Cascade {
		id, ok := r.Match(text)
		if !ok {
			continue
		}
		id.Series = seriesOrFallback(id.Series, text)
		id.Quality = quality
		return id, r.Name
	}
	one := 1
	return Identity{
		Series:  seriesOrFallback(text, text),
		Season:  &one,
		Episode: 1,
		Quality: quality,
	}, RuleFallback
}

func matchSeasonEpisode(text string) (Identity, bool) {
	sm := seasonPattern.FindStringSubmatchIndex(text)
	em := episodePattern.FindStringSubmatchIndex(text)
	if sm == nil || em == nil {
		return Identity{}, false
	}
	season, err := strconv.Atoi(text[sm[4]:sm[5]])
	if err != nil {
		return Identity{}, false
	}
	episode, err := strconv.Atoi(text[em[4]:em[5]])
	if err != nil || episode < 1 {
		return Identity{}, false
	}
	return Identity{
		Series:  trimSeries(text[:sm[0]]),
		Season:  &season,
		Episode: episode,
	}, true
}

func matchEpisodeMarker(text string) (Identity, bool) {
	m := episodeOnlyPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return Identity{}, false
	}
	episode, err := strconv.Atoi(text[m[2]:m[3]])
	if err != nil || episode < 1 {
		return Identity{}, false
	}
	return Identity{Series: trimSeries(text[:m[0]]), Episode: episode}, true
}

// numberRule scans every match of re and takes the first acceptable
// candidate; rejected candidates do not end the rule.
func numberRule(re *regexp.Regexp) func(string) (Identity, bool) {
	return func(text string) (Identity, bool) {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			episode, ok := acceptEpisode(text[m[2]:m[3]])
			if !ok {
				continue
			}
			series := strings.TrimSpace(text[:m[0]])
			series = trimSeries(trailingNumBrackets.ReplaceAllString(series, ""))
			return Identity{Series: series, Episode: episode}, true
		}
		return Identity{}, false
	}
}

func matchLastNumeral(text string) (Identity, bool) {
	locs := numberPattern.FindAllStringIndex(text, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		episode, ok := acceptEpisode(text[locs[i][0]:locs[i][1]])
		if !ok {
			continue
		}
		return Identity{Series: trimSeries(text[:locs[0][0]]), Episode: episode}, true
	}
	return Identity{}, false
}

func acceptEpisode(s string) (int, bool) {
	if resolutionTokens[strings.ToLower(s)] {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 999 {
		return 0, false
	}
	return n, true
}

func trimSeries(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), " ._-")
}

// seriesOrFallback keeps series non-empty: raw text minus trailing numeric
// tokens, then the raw text itself.
func seriesOrFallback(series, text string) string {
	if strings.TrimSpace(series) != "" {
		return series
	}
	if s := trimSeries(trailingNumericTokens.ReplaceAllString(text, "")); s != "" {
		return s
	}
	if s := strings.TrimSpace(text); s != "" {
		return s
	}
	return "Unknown"
}
