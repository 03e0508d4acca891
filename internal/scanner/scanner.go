// Package scanner periodically picks up finished posts from the intake
// directory and hands them to moderation.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"moderation-bot/internal/moderation"
	"moderation-bot/internal/storage"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by Sweep while another sweep is running.
var ErrBusy = errors.New("sweep already in progress")

// Intaker accepts a loaded item for moderation.
type Intaker interface {
	Intake(ctx context.Context, item moderation.Item) error
}

// Result summarizes one sweep.
type Result struct {
	Delivered int
	Skipped   int
	NotReady  int
	Errors    int
}

// Scanner sweeps the intake directory. Sweeps never overlap: a sweep started
// while another one runs returns ErrBusy immediately.
type Scanner struct {
	dir    string
	intake Intaker
	store  *storage.RecordStore
	seen   *storage.SeenCache
	sem    *semaphore.Weighted
}

// New creates a scanner over dir.
func New(dir string, intake Intaker, store *storage.RecordStore, seen *storage.SeenCache) *Scanner {
	return &Scanner{
		dir:    dir,
		intake: intake,
		store:  store,
		seen:   seen,
		sem:    semaphore.NewWeighted(1),
	}
}

// Sweep delivers every ready item that is neither seen nor recorded yet.
// A failing item is counted and the sweep moves on.
func (s *Scanner) Sweep(ctx context.Context) (Result, error) {
	if !s.sem.TryAcquire(1) {
		log.Printf("[Scanner] Sweep already in progress, skipping")
		return Result{}, ErrBusy
	}
	defer s.sem.Release(1)

	var res Result
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return res, fmt.Errorf("failed to create intake directory %s: %w", s.dir, err)
		}
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to read intake directory %s: %w", s.dir, err)
	}

	recs, err := s.store.Read(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read records: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), postPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.known(name, recs) {
			res.Skipped++
			continue
		}

		item, err := LoadItem(filepath.Join(s.dir, name))
		if errors.Is(err, ErrNotReady) {
			res.NotReady++
			continue
		}
		if err != nil {
			res.Errors++
			log.Printf("[Scanner Post:%s] Failed to load: %v", name, err)
			sentry.CaptureException(fmt.Errorf("load intake item %s: %w", name, err))
			continue
		}

		if err := s.deliver(ctx, item); err != nil {
			res.Errors++
			log.Printf("[Scanner Post:%s] Intake failed: %v", name, err)
			sentry.CaptureException(fmt.Errorf("intake %s: %w", name, err))
			continue
		}
		res.Delivered++
	}

	if err := s.seen.UpdateLastCheck(); err != nil {
		log.Printf("[Scanner] Failed to update last check time: %v", err)
	}
	if res.Delivered > 0 || res.Errors > 0 {
		log.Printf("[Scanner] Sweep done: %d delivered, %d skipped, %d not ready, %d errors",
			res.Delivered, res.Skipped, res.NotReady, res.Errors)
	}
	return res, nil
}

// known reports whether the item was delivered before. A record without a
// cache entry heals the cache.
func (s *Scanner) known(id string, recs storage.Records) bool {
	sent, err := s.seen.IsSent(id)
	if err != nil {
		log.Printf("[Scanner Post:%s] Seen cache lookup failed: %v", id, err)
	}
	if sent {
		return true
	}
	if _, ok := recs[id]; ok {
		if err := s.seen.MarkSent(id); err != nil {
			log.Printf("[Scanner Post:%s] Failed to mark as seen: %v", id, err)
		}
		return true
	}
	return false
}

func (s *Scanner) deliver(ctx context.Context, item moderation.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scanner Post:%s] PANIC recovered: %v\n%s", item.ID, r, debug.Stack())
			sentry.CurrentHub().Recover(r)
			err = fmt.Errorf("panic during intake of %s: %v", item.ID, r)
		}
	}()
	return s.intake.Intake(ctx, item)
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	log.Printf("[Scanner] Watching %s every %v", s.dir, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
			log.Printf("[Scanner] Sweep failed: %v", err)
			sentry.CaptureException(err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[Scanner] Stopped")
			return
		case <-ticker.C:
		}
	}
}
