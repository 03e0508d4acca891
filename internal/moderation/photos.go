package moderation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxPhotos is the largest album the transport accepts.
const MaxPhotos = 10

var photoNameRe = regexp.MustCompile(`^photo_(\d+)\.jpg$`)

// PhotoName returns the file name of the photo at 1-based index.
func PhotoName(index int) string {
	return fmt.Sprintf("photo_%d.jpg", index)
}

// ListPhotos returns the photo file names in dir ordered by numeric index.
func ListPhotos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos in %s: %w", dir, err)
	}
	type indexed struct {
		name  string
		index int
	}
	var found []indexed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := photoNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, indexed{entry.Name(), n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })

	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.name
	}
	return names, nil
}

// ParseIndices reads whitespace separated 1-based indices. Tokens that are not
// numbers or fall outside 1..count are dropped; the result is sorted and unique.
func ParseIndices(input string, count int) []int {
	seen := make(map[int]bool)
	var indices []int
	for _, field := range strings.Fields(input) {
		n, err := strconv.Atoi(strings.Trim(field, ",;."))
		if err != nil || n < 1 || n > count || seen[n] {
			continue
		}
		seen[n] = true
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices
}

// RemovePhotos deletes the photos at the given 1-based indices and renames the
// rest to photo_1.jpg..photo_N.jpg keeping their order. It returns the new names.
func RemovePhotos(dir string, indices []int) ([]string, error) {
	photos, err := ListPhotos(dir)
	if err != nil {
		return nil, err
	}
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}

	var remaining []string
	for i, name := range photos {
		if !drop[i+1] {
			remaining = append(remaining, name)
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	// ascending order never overwrites a file that is still to be moved
	names := make([]string, len(remaining))
	for i, name := range remaining {
		target := PhotoName(i + 1)
		if name != target {
			if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, target)); err != nil {
				return nil, fmt.Errorf("failed to rename %s to %s: %w", name, target, err)
			}
		}
		names[i] = target
	}
	return names, nil
}

// NextPhotoPaths returns paths for n photos appended after the existing ones.
func NextPhotoPaths(dir string, existing, n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, PhotoName(existing+i+1))
	}
	return paths
}
