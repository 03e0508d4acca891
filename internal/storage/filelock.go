package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultPollInterval is how long Lock sleeps between attempts to create the marker file.
const DefaultPollInterval = 100 * time.Millisecond

// FileLock is an advisory lock over a data file. Holding the lock means owning
// the exclusive "<file>.lock" marker; the marker contains the holder pid.
// Goroutines of one process are serialized in memory first so that only one of
// them polls the marker at a time.
type FileLock struct {
	path         string
	pollInterval time.Duration
	sem          chan struct{}
}

// NewFileLock creates a lock guarding target.
func NewFileLock(target string) *FileLock {
	return &FileLock{
		path:         target + ".lock",
		pollInterval: DefaultPollInterval,
		sem:          make(chan struct{}, 1),
	}
}

// Path returns the marker file path.
func (l *FileLock) Path() string {
	return l.path
}

// Lock blocks until the marker is created or ctx is done. There is no timeout
// of its own; do not hold the lock across network calls.
func (l *FileLock) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		<-l.sem
		return fmt.Errorf("failed to create directory for lock marker %s: %w", l.path, err)
	}

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				log.Printf("[FileLock Path:%s] Failed to write holder pid: %v %v", l.path, werr, cerr)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			<-l.sem
			return fmt.Errorf("failed to create lock marker %s: %w", l.path, err)
		}

		select {
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Unlock removes the marker. It must only be called by the holder.
func (l *FileLock) Unlock() error {
	defer func() { <-l.sem }()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock marker %s: %w", l.path, err)
	}
	return nil
}

// BreakStale removes a marker left behind by a process that no longer exists.
// It returns true when a marker was removed.
func (l *FileLock) BreakStale() (bool, error) {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock marker %s: %w", l.path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err == nil && pid != os.Getpid() && processAlive(pid) {
		return false, nil
	}

	log.Printf("[FileLock Path:%s] Removing stale marker (holder %q)", l.path, strings.TrimSpace(string(raw)))
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale lock marker %s: %w", l.path, err)
	}
	return true, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
