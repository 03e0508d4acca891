package textlimit

import (
	"html"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"
)

type tagSpan struct {
	start, end  int
	open, close string
}

// EntitiesToHTML renders a message text and its entities as Telegram HTML.
// Entity offsets are UTF-16 code units. Unsupported entity types are rendered as plain text.
func EntitiesToHTML(text string, entities []telego.MessageEntity) string {
	units := utf16.Encode([]rune(text))

	spans := make([]tagSpan, 0, len(entities))
	for _, e := range entities {
		if e.Length <= 0 || e.Offset < 0 || e.Offset+e.Length > len(units) {
			continue
		}
		open, closeTag, ok := entityTags(e)
		if !ok {
			continue
		}
		spans = append(spans, tagSpan{start: e.Offset, end: e.Offset + e.Length, open: open, close: closeTag})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var b strings.Builder
	var stack []tagSpan
	next := 0
	for pos := 0; pos <= len(units); pos++ {
		for len(stack) > 0 && stack[len(stack)-1].end <= pos {
			b.WriteString(stack[len(stack)-1].close)
			stack = stack[:len(stack)-1]
		}
		for next < len(spans) && spans[next].start <= pos {
			b.WriteString(spans[next].open)
			stack = append(stack, spans[next])
			next++
		}
		if pos == len(units) {
			break
		}

		r := rune(units[pos])
		if utf16.IsSurrogate(r) && pos+1 < len(units) {
			r = utf16.DecodeRune(r, rune(units[pos+1]))
			pos++
		}
		b.WriteString(html.EscapeString(string(r)))
	}
	return b.String()
}

func entityTags(e telego.MessageEntity) (string, string, bool) {
	switch e.Type {
	case telego.EntityTypeBold:
		return "<b>", "</b>", true
	case telego.EntityTypeItalic:
		return "<i>", "</i>", true
	case telego.EntityTypeUnderline:
		return "<u>", "</u>", true
	case telego.EntityTypeStrikethrough:
		return "<s>", "</s>", true
	case telego.EntityTypeSpoiler:
		return "<tg-spoiler>", "</tg-spoiler>", true
	case telego.EntityTypeCode:
		return "<code>", "</code>", true
	case telego.EntityTypePre:
		return "<pre>", "</pre>", true
	case telego.EntityTypeBlockquote:
		return "<blockquote>", "</blockquote>", true
	case telego.EntityTypeTextLink:
		if e.URL == "" {
			return "", "", false
		}
		return `<a href="` + html.EscapeString(e.URL) + `">`, "</a>", true
	default:
		return "", "", false
	}
}
