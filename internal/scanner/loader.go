package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"moderation-bot/internal/moderation"
)

const (
	readyFile   = "ready.txt"
	textFile    = "text.txt"
	sourceFile  = "source.txt"
	readyMarker = "ok"
	postPrefix  = "post_"
)

// ErrNotReady means the producer has not finished writing the item yet.
var ErrNotReady = errors.New("intake item is not ready")

// LoadItem reads one intake directory. The item is ready once ready.txt
// contains "ok"; text.txt is required and photos must be numbered 1..N.
func LoadItem(dir string) (moderation.Item, error) {
	id := filepath.Base(dir)

	ready, err := os.ReadFile(filepath.Join(dir, readyFile))
	if err != nil || strings.TrimSpace(string(ready)) != readyMarker {
		return moderation.Item{}, fmt.Errorf("%s: %w", id, ErrNotReady)
	}

	text, err := os.ReadFile(filepath.Join(dir, textFile))
	if err != nil {
		return moderation.Item{}, fmt.Errorf("%s: reading %s: %v: %w", id, textFile, err, moderation.ErrIntakeIncomplete)
	}
	source, err := os.ReadFile(filepath.Join(dir, sourceFile))
	if err != nil && !os.IsNotExist(err) {
		return moderation.Item{}, fmt.Errorf("%s: reading %s: %w", id, sourceFile, err)
	}

	photos, err := moderation.ListPhotos(dir)
	if err != nil {
		return moderation.Item{}, err
	}
	for i, name := range photos {
		if name != moderation.PhotoName(i+1) {
			return moderation.Item{}, fmt.Errorf("%s: photo %s out of sequence: %w", id, name, moderation.ErrIntakeIncomplete)
		}
	}

	item := moderation.Item{
		ID:     id,
		Dir:    dir,
		Text:   strings.TrimSpace(string(text)),
		Source: strings.TrimSpace(string(source)),
		Photos: photos,
	}
	if item.Text == "" && len(photos) == 0 {
		return moderation.Item{}, fmt.Errorf("%s: no text and no photos: %w", id, moderation.ErrIntakeIncomplete)
	}
	if info, err := os.Stat(dir); err == nil {
		item.CreatedAt = info.ModTime()
	}
	return item, nil
}
