// Package textlimit fits post text into Telegram caption budgets.
//
// Lengths are measured in UTF-16 code units, the unit Telegram counts captions in,
// and cuts always fall on rune boundaries.
package textlimit

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	// CaptionLimit is the maximum caption length of a media group item.
	CaptionLimit = 1024
	// TruncationMarker is appended after a shortened body.
	TruncationMarker = "❗️❗️❗️ТЕКСТ ОБРЕЗАН❗️❗️❗️"

	separator = "\n\n"
)

// DefaultSpans are the rich-text constructs a cut may never split: HTML tags
// and entities as sent with ParseMode HTML, plus markdown-style markup typed by hand.
var DefaultSpans = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<b>.*?</b>`),
	regexp.MustCompile(`(?s)<strong>.*?</strong>`),
	regexp.MustCompile(`(?s)<i>.*?</i>`),
	regexp.MustCompile(`(?s)<em>.*?</em>`),
	regexp.MustCompile(`(?s)<u>.*?</u>`),
	regexp.MustCompile(`(?s)<s>.*?</s>`),
	regexp.MustCompile(`(?s)<tg-spoiler>.*?</tg-spoiler>`),
	regexp.MustCompile(`(?s)<code>.*?</code>`),
	regexp.MustCompile(`(?s)<pre>.*?</pre>`),
	regexp.MustCompile(`(?s)<blockquote>.*?</blockquote>`),
	regexp.MustCompile(`(?s)<a\s[^>]*>.*?</a>`),
	regexp.MustCompile(`<[^<>]*>`),
	regexp.MustCompile(`&(?:[a-zA-Z]+|#[0-9]+|#x[0-9a-fA-F]+);`),
	regexp.MustCompile(`\*\*.+?\*\*`),
	regexp.MustCompile(`\*[^*\n]+?\*`),
	regexp.MustCompile(`__.+?__`),
	regexp.MustCompile(`~~.+?~~`),
	regexp.MustCompile("`[^`]+`"),
	regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`),
}

// Limiter cuts text without breaking its rich-text spans.
type Limiter struct {
	spans []*regexp.Regexp
}

// New returns a Limiter protecting the given spans, or DefaultSpans when none are given.
func New(spans ...*regexp.Regexp) *Limiter {
	if len(spans) == 0 {
		spans = DefaultSpans
	}
	return &Limiter{spans: spans}
}

var defaultLimiter = New()

// Fit uses the default limiter.
func Fit(text string, maxLen int, suffix, marker string) (string, bool) {
	return defaultLimiter.Fit(text, maxLen, suffix, marker)
}

// FitWithPreservedSuffix uses the default limiter.
func FitWithPreservedSuffix(main, preserved string, maxLen int, marker string) (string, bool) {
	return defaultLimiter.FitWithPreservedSuffix(main, preserved, maxLen, marker)
}

// Len returns the length of s in UTF-16 code units.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	if utf16.IsSurrogate(r) || r < 0x10000 {
		return 1
	}
	return 2
}

// Fit returns text followed by suffix when that fits in maxLen. Otherwise the
// body is shortened and followed by a blank line, marker and suffix.
// If the decorations alone exceed maxLen the marker is dropped first, then the suffix.
func (l *Limiter) Fit(text string, maxLen int, suffix, marker string) (string, bool) {
	if maxLen < 0 {
		maxLen = 0
	}
	if Len(text)+Len(suffix) <= maxLen {
		return text + suffix, false
	}

	tails := []string{suffix, "", ""}
	if marker != "" {
		tails = []string{separator + marker + suffix, suffix, ""}
	}
	for _, tail := range tails {
		budget := maxLen - Len(tail)
		if budget < 0 {
			continue
		}
		return l.cut(text, budget) + tail, true
	}
	return "", true
}

// FitWithPreservedSuffix joins main and preserved with a blank line. When the
// result is too long only main is shortened; preserved always survives intact
// as long as it fits in maxLen by itself.
func (l *Limiter) FitWithPreservedSuffix(main, preserved string, maxLen int, marker string) (string, bool) {
	if maxLen < 0 {
		maxLen = 0
	}
	if main == "" {
		if Len(preserved) <= maxLen {
			return preserved, false
		}
		return l.cut(preserved, maxLen), true
	}

	full := main + separator + preserved
	if Len(full) <= maxLen {
		return full, false
	}

	keep := separator + preserved
	if Len(preserved) > maxLen {
		return l.cut(preserved, maxLen), true
	}
	if marker != "" {
		tail := separator + marker + keep
		if budget := maxLen - Len(tail); budget >= 0 {
			return l.cut(main, budget) + tail, true
		}
	}
	if budget := maxLen - Len(keep); budget >= 0 {
		return l.cut(main, budget) + keep, true
	}
	return preserved, true
}

// cut returns the longest prefix of text that fits budget, moved back to the
// start of any span the cut would split, with trailing whitespace removed.
func (l *Limiter) cut(text string, budget int) string {
	runes := []rune(text)
	pos, used := 0, 0
	for pos < len(runes) {
		w := runeWidth(runes[pos])
		if used+w > budget {
			break
		}
		used += w
		pos++
	}
	if pos == len(runes) {
		return strings.TrimRightFunc(text, unicode.IsSpace)
	}

	spans := l.spanRanges(text)
	for moved := true; moved; {
		moved = false
		for _, sp := range spans {
			if sp[0] < pos && pos < sp[1] {
				pos = sp[0]
				moved = true
			}
		}
	}
	return strings.TrimRightFunc(string(runes[:pos]), unicode.IsSpace)
}

// spanRanges returns protected spans as [start, end) rune offsets.
func (l *Limiter) spanRanges(text string) [][2]int {
	runeAt := make([]int, len(text)+1)
	i := 0
	for b := range text {
		runeAt[b] = i
		i++
	}
	runeAt[len(text)] = i
	// continuation bytes never start or end a match, so only rune starts are read

	var out [][2]int
	for _, re := range l.spans {
		for _, m := range re.FindAllStringIndex(text, -1) {
			out = append(out, [2]int{runeAt[m[0]], runeAt[m[1]]})
		}
	}
	return out
}

// StripDecorations removes a trailing signature and truncation marker added by Fit,
// returning the body as a moderator would edit it.
func StripDecorations(text, signature, marker string) string {
	if signature != "" {
		text = strings.TrimSuffix(text, signature)
	}
	if marker != "" {
		text = strings.TrimSuffix(strings.TrimRightFunc(text, unicode.IsSpace), marker)
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}
