package textlimit

import (
	"regexp"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
)

func TestFit(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		maxLen        int
		suffix        string
		marker        string
		want          string
		wantTruncated bool
	}{
		{
			name:   "ShortTextUnchanged",
			text:   "Hello",
			maxLen: 10,
			marker: "...",
			want:   "Hello",
		},
		{
			name:          "LongTextGetsMarker",
			text:          "abcdefghijklmnopqrst",
			maxLen:        10,
			marker:        "...",
			want:          "abcde\n\n...",
			wantTruncated: true,
		},
		{
			name:   "SuffixAppended",
			text:   "Hi",
			maxLen: 10,
			suffix: " -sig",
			want:   "Hi -sig",
		},
		{
			name:          "SuffixAndMarkerReserved",
			text:          "one two three four five six",
			maxLen:        20,
			suffix:        "|S",
			marker:        "!",
			want:          "one two three f\n\n!|S",
			wantTruncated: true,
		},
		{
			name:          "TrailingSpaceTrimmedAtCut",
			text:          "abcd efghijklmnop",
			maxLen:        10,
			marker:        "...",
			want:          "abcd\n\n...",
			wantTruncated: true,
		},
		{
			name:          "CutMovesBeforeBoldSpan",
			text:          "ab <b>bold words</b> tail text",
			maxLen:        15,
			want:          "ab",
			wantTruncated: true,
		},
		{
			name:          "CutMovesBeforeMarkdownLink",
			text:          "see [the docs](http://x.y) now",
			maxLen:        12,
			want:          "see",
			wantTruncated: true,
		},
		{
			name:          "EscapedEntityNotSplit",
			text:          "a &amp; b and more",
			maxLen:        4,
			want:          "a",
			wantTruncated: true,
		},
		{
			name:          "DecorationsTooLongDropMarker",
			text:          "abcdefghij",
			maxLen:        5,
			suffix:        "xy",
			marker:        "MARKER",
			want:          "abcxy",
			wantTruncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Fit(tt.text, tt.maxLen, tt.suffix, tt.marker)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantTruncated, truncated)
			assert.LessOrEqual(t, Len(got), tt.maxLen)
		})
	}
}

func TestFit_TwentyCharsInTenCharBudget(t *testing.T) {
	text := strings.Repeat("x", 20)

	got, truncated := Fit(text, 10, "", "!!!")

	assert.True(t, truncated)
	assert.LessOrEqual(t, Len(got), 10)
	assert.True(t, strings.HasSuffix(got, "!!!"))
}

func TestFit_NeverSplitsSpans(t *testing.T) {
	text := "Intro <b>bold part</b> middle <i>italic part</i> and <a href=\"https://example.com\">a link</a> " +
		"then **stars** and `code` end"
	balanced := regexp.MustCompile(`<b>|</b>|<i>|</i>|<a |</a>|\*\*|` + "`")

	for maxLen := 0; maxLen <= Len(text)+5; maxLen++ {
		got, _ := Fit(text, maxLen, "", "")

		assert.LessOrEqual(t, Len(got), maxLen)
		counts := map[string]int{}
		for _, tok := range balanced.FindAllString(got, -1) {
			counts[tok]++
		}
		assert.Equal(t, counts["<b>"], counts["</b>"], "maxLen=%d got=%q", maxLen, got)
		assert.Equal(t, counts["<i>"], counts["</i>"], "maxLen=%d got=%q", maxLen, got)
		assert.Equal(t, counts["<a "], counts["</a>"], "maxLen=%d got=%q", maxLen, got)
		assert.Equal(t, 0, counts["**"]%2, "maxLen=%d got=%q", maxLen, got)
		assert.Equal(t, 0, counts["`"]%2, "maxLen=%d got=%q", maxLen, got)
	}
}

func TestFit_CountsUTF16Units(t *testing.T) {
	text := strings.Repeat("😀", 10)

	got, truncated := Fit(text, 10, "", "")

	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("😀", 5), got)
	assert.Equal(t, 10, Len(got))
}

func TestFitWithPreservedSuffix(t *testing.T) {
	t.Run("FitsWhole", func(t *testing.T) {
		got, truncated := FitWithPreservedSuffix("main", "source", 100, "!")

		assert.False(t, truncated)
		assert.Equal(t, "main\n\nsource", got)
	})

	t.Run("ShortensMainOnly", func(t *testing.T) {
		main := strings.Repeat("m", 50)

		got, truncated := FitWithPreservedSuffix(main, "src line 1\nsrc line 2", 40, "!")

		assert.True(t, truncated)
		assert.LessOrEqual(t, Len(got), 40)
		assert.True(t, strings.HasSuffix(got, "\n\n!\n\nsrc line 1\nsrc line 2"))
		assert.True(t, strings.HasPrefix(got, "mmm"))
	})

	t.Run("EmptyMain", func(t *testing.T) {
		got, truncated := FitWithPreservedSuffix("", "source", 100, "!")

		assert.False(t, truncated)
		assert.Equal(t, "source", got)
	})

	t.Run("NoRoomForMarker", func(t *testing.T) {
		got, truncated := FitWithPreservedSuffix("abcdef", "src", 8, "MARKER")

		assert.True(t, truncated)
		assert.Equal(t, "abc\n\nsrc", got)
	})
}

func TestStripDecorations(t *testing.T) {
	sig := "\n\nSig"

	assert.Equal(t, "body", StripDecorations("body"+sig, sig, TruncationMarker))
	assert.Equal(t, "body", StripDecorations("body\n\n"+TruncationMarker+sig, sig, TruncationMarker))
	assert.Equal(t, "plain", StripDecorations("plain", sig, TruncationMarker))
}

func TestEntitiesToHTML(t *testing.T) {
	t.Run("Nested", func(t *testing.T) {
		text := "Hello bold world"
		entities := []telego.MessageEntity{
			{Type: telego.EntityTypeBold, Offset: 6, Length: 10},
			{Type: telego.EntityTypeItalic, Offset: 11, Length: 5},
		}

		got := EntitiesToHTML(text, entities)

		assert.Equal(t, "Hello <b>bold <i>world</i></b>", got)
	})

	t.Run("EscapesAndLinks", func(t *testing.T) {
		text := "a<b & link"
		entities := []telego.MessageEntity{
			{Type: telego.EntityTypeTextLink, Offset: 6, Length: 4, URL: "https://e.x/?a=1&b=2"},
		}

		got := EntitiesToHTML(text, entities)

		assert.Equal(t, `a&lt;b &amp; <a href="https://e.x/?a=1&amp;b=2">link</a>`, got)
	})

	t.Run("UTF16Offsets", func(t *testing.T) {
		text := "😀 hi"
		entities := []telego.MessageEntity{{Type: telego.EntityTypeCode, Offset: 3, Length: 2}}

		got := EntitiesToHTML(text, entities)

		assert.Equal(t, "😀 <code>hi</code>", got)
	})

	t.Run("UnknownAndInvalidIgnored", func(t *testing.T) {
		entities := []telego.MessageEntity{
			{Type: telego.EntityTypeMention, Offset: 0, Length: 2},
			{Type: telego.EntityTypeBold, Offset: 1, Length: 99},
		}

		assert.Equal(t, "@me", EntitiesToHTML("@me", entities))
	})
}
