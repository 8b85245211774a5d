// Package optimizer turns one piece of author content into a
// platform-legal payload. Everything here is pure: a validation failure
// is returned before any network work happens.
package optimizer

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/relaypost/relaypost/src/platforms"
)

// Hard character limits per platform.
var limits = map[string]int{
	platforms.Facebook:  63206,
	platforms.Instagram: 2200,
	platforms.Twitter:   280,
	platforms.LinkedIn:  3000,
	platforms.YouTube:   5000,
	platforms.Threads:   500,
}

// threadable platforms publish oversize content as a numbered chain.
var threadable = map[string]bool{
	platforms.Twitter: true,
	platforms.Threads: true,
}

const (
	ellipsis        = "..."
	threadSuffixMax = 10 // " (999/999)"
	maxHashtags     = 3
)

var sanitizer = bluemonday.StrictPolicy()

type Options struct {
	CreateThread bool
}

// Limit returns the hard character limit for a platform, or 0 when the
// platform is unknown.
func Limit(platform string) int {
	return limits[platform]
}

// MinBudget is the character budget the composer UI shows for a
// multi-platform post: the smallest limit across the selection.
func MinBudget(selected []string) int {
	min := 0
	for _, p := range selected {
		l := limits[p]
		if l == 0 {
			continue
		}
		if min == 0 || l < min {
			min = l
		}
	}
	return min
}

// Optimize produces the platform-ready payload or a ValidationError.
// The order matters: sanitize, augment hashtags, validate media, then
// limit length last so augmentation never overflows.
func Optimize(content platforms.Content, platform string, opts Options) (platforms.Content, error) {
	limit, ok := limits[platform]
	if !ok {
		return platforms.Content{}, fmt.Errorf("optimize: unknown platform %q", platform)
	}

	out := content
	out.Text = sanitize(content.Text)
	out.Thread = nil

	if platform == platforms.Instagram && !strings.Contains(out.Text, "#") {
		out.Text = appendHashtags(out.Text)
	}

	if err := validateMedia(out, platform); err != nil {
		return platforms.Content{}, err
	}

	if runeLen(out.Text) <= limit {
		return out, nil
	}

	if opts.CreateThread && threadable[platform] {
		out.Thread = splitThread(out.Text, limit-threadSuffixMax)
		if len(out.Thread) > 0 {
			out.Text = out.Thread[0]
		}
		return out, nil
	}

	out.Text = truncate(out.Text, limit)
	return out, nil
}

func validateMedia(content platforms.Content, platform string) error {
	switch platform {
	case platforms.Instagram:
		if len(content.Media) == 0 {
			return &platforms.ValidationError{Platform: platform, Reason: "requires at least one media file"}
		}
	case platforms.YouTube:
		for _, m := range content.Media {
			if strings.HasPrefix(m.MIMEType, "video/") {
				return nil
			}
		}
		return &platforms.ValidationError{Platform: platform, Reason: "requires a video file"}
	}
	return nil
}

func sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(text)))
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

func runeLen(s string) int {
	return len([]rune(s))
}

// splitThread breaks text into ordered segments of at most max runes,
// preferring sentence boundaries, then word boundaries, then hard cuts.
// Numbering is applied in a second pass once the total is known.
func splitThread(text string, max int) []string {
	var segments []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, sentence := range splitSentences(text) {
		sl := runeLen(sentence)
		switch {
		case sl > max:
			// One sentence too big for a segment: fall back to words.
			flush()
			for _, piece := range splitWords(sentence, max) {
				segments = append(segments, piece)
			}
		case curLen == 0:
			cur.WriteString(sentence)
			curLen = sl
		case curLen+1+sl <= max:
			cur.WriteString(" ")
			cur.WriteString(sentence)
			curLen += 1 + sl
		default:
			flush()
			cur.WriteString(sentence)
			curLen = sl
		}
	}
	flush()

	if len(segments) <= 1 {
		return segments
	}
	for i := range segments {
		segments[i] = fmt.Sprintf("%s (%d/%d)", segments[i], i+1, len(segments))
	}
	return segments
}

// splitSentences cuts on terminal punctuation followed by whitespace,
// keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Consume a punctuation run ("..." or "?!").
		j := i
		for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?') {
			j++
		}
		if j+1 < len(runes) && !isSpace(runes[j+1]) {
			i = j
			continue
		}
		s := strings.TrimSpace(string(runes[start : j+1]))
		if s != "" {
			out = append(out, s)
		}
		i = j
		start = j + 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

func splitWords(text string, max int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	for _, word := range strings.Fields(text) {
		wl := runeLen(word)
		if wl > max {
			if curLen > 0 {
				out = append(out, cur.String())
				cur.Reset()
				curLen = 0
			}
			out = append(out, hardCut(word, max)...)
			continue
		}
		if curLen == 0 {
			cur.WriteString(word)
			curLen = wl
		} else if curLen+1+wl <= max {
			cur.WriteString(" ")
			cur.WriteString(word)
			curLen += 1 + wl
		} else {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(word)
			curLen = wl
		}
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

func hardCut(text string, max int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > max {
		out = append(out, string(runes[:max]))
		runes = runes[max:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9]+`)

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "because": true,
	"been": true, "before": true, "being": true, "between": true,
	"both": true, "could": true, "does": true, "doing": true,
	"down": true, "during": true, "each": true, "from": true,
	"have": true, "having": true, "here": true, "into": true,
	"just": true, "more": true, "most": true, "once": true,
	"only": true, "other": true, "over": true, "same": true,
	"should": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "under": true, "until": true,
	"very": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true,
}

// appendHashtags derives up to three tags from the most frequent
// non-stop-word keywords. Runs before truncation so augmentation cannot
// push the text past the platform limit unnoticed.
func appendHashtags(text string) string {
	type kw struct {
		word  string
		count int
		first int
	}
	seen := map[string]*kw{}
	var order []*kw
	for i, match := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(match) <= 3 || stopWords[match] {
			continue
		}
		if k, ok := seen[match]; ok {
			k.count++
			continue
		}
		k := &kw{word: match, count: 1, first: i}
		seen[match] = k
		order = append(order, k)
	}
	if len(order) == 0 {
		return text
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	var tags []string
	for i := 0; i < len(order) && i < maxHashtags; i++ {
		tags = append(tags, "#"+order[i].word)
	}
	return text + "\n\n" + strings.Join(tags, " ")
}
