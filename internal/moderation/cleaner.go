package moderation

import (
	"context"
	"regexp"
	"strings"
)

// TextCleaner produces the public variant of an approved caption body.
type TextCleaner interface {
	Clean(ctx context.Context, text string) (string, error)
}

// TextCleanerFunc adapts a function to TextCleaner.
type TextCleanerFunc func(ctx context.Context, text string) (string, error)

func (f TextCleanerFunc) Clean(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

var (
	linkTagRe   = regexp.MustCompile(`(?s)<a\s+href="[^"]*">(.*?)</a>`)
	urlRe       = regexp.MustCompile(`(?i)(?:https?://|www\.|t\.me/)[^\s<]+`)
	mentionRe   = regexp.MustCompile(`(^|[\s(])@[A-Za-z0-9_]{4,32}`)
	phoneRe     = regexp.MustCompile(`\+?\d[\d \t()\-]{8,}\d`)
	spacesRe    = regexp.MustCompile(`[ \t]+\n`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

// ContactStripper removes links, @usernames and phone numbers from HTML
// captions. Link tags are unwrapped to their label so the markup stays balanced.
type ContactStripper struct{}

func (ContactStripper) Clean(_ context.Context, text string) (string, error) {
	text = linkTagRe.ReplaceAllString(text, "$1")
	text = urlRe.ReplaceAllString(text, "")
	text = mentionRe.ReplaceAllString(text, "$1")
	text = phoneRe.ReplaceAllString(text, "")
	text = spacesRe.ReplaceAllString(text, "\n")
	text = blankLineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
