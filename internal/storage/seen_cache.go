package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const seenStatusSent = "sent"

// SeenEntry records when a post was delivered to moderation.
type SeenEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type seenFile struct {
	LastCheck *time.Time           `json:"last_check"`
	SentPosts map[string]SeenEntry `json:"sent_posts"`
}

func emptySeenFile() seenFile {
	return seenFile{SentPosts: map[string]SeenEntry{}}
}

// SeenCache is the fast-path "already delivered" set. It is derived data:
// SyncWithStore tops it up from the record store. Lookups are served from memory;
// every change is written through to disk.
type SeenCache struct {
	path string
	now  func() time.Time

	mu     sync.RWMutex
	data   seenFile
	loaded bool
}

// NewSeenCache creates a cache persisted at path.
func NewSeenCache(path string) *SeenCache {
	return &SeenCache{path: path, now: time.Now}
}

func (c *SeenCache) ensureLoaded() error {
	if c.loaded {
		return nil
	}
	data, err := readJSON(c.path, emptySeenFile)
	if data.SentPosts == nil {
		data.SentPosts = map[string]SeenEntry{}
	}
	c.data = data
	c.loaded = true
	return err
}

func (c *SeenCache) persist() error {
	if err := writeJSON(c.path, c.data); err != nil {
		log.Printf("[SeenCache Path:%s] Failed to save: %v", c.path, err)
		return err
	}
	return nil
}

// IsSent reports whether id has already been delivered.
func (c *SeenCache) IsSent(id string) (bool, error) {
	c.mu.RLock()
	if c.loaded {
		_, ok := c.data.SentPosts[id]
		c.mu.RUnlock()
		return ok, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return false, err
	}
	_, ok := c.data.SentPosts[id]
	return ok, nil
}

// MarkSent adds id with the current time.
func (c *SeenCache) MarkSent(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	c.data.SentPosts[id] = SeenEntry{Timestamp: c.now(), Status: seenStatusSent}
	return c.persist()
}

// Remove drops id from the cache.
func (c *SeenCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := c.data.SentPosts[id]; !ok {
		return nil
	}
	delete(c.data.SentPosts, id)
	return c.persist()
}

// UpdateLastCheck stamps the time of the latest sweep.
func (c *SeenCache) UpdateLastCheck() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	now := c.now()
	c.data.LastCheck = &now
	return c.persist()
}

// LastCheck returns the time of the latest sweep, if any.
func (c *SeenCache) LastCheck() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil || c.data.LastCheck == nil {
		return time.Time{}, false
	}
	return *c.data.LastCheck, true
}

// Len returns the number of cached posts.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ensureLoaded()
	return len(c.data.SentPosts)
}

// Clear empties the cache.
func (c *SeenCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = emptySeenFile()
	c.loaded = true
	return c.persist()
}

// SyncWithStore adds every record that has left the pending state to the cache.
// Existing entries are kept: a purged post has no record but stays seen.
// The record creation time becomes the timestamp of a new entry. It returns
// the number of entries after the sync.
func (c *SeenCache) SyncWithStore(ctx context.Context, store *RecordStore) (int, error) {
	recs, err := store.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read records for seen cache sync: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		log.Printf("[SeenCache Path:%s] Load before sync failed: %v", c.path, err)
	}
	if c.data.SentPosts == nil {
		c.data.SentPosts = make(map[string]SeenEntry, len(recs))
	}
	for id, rec := range recs {
		if rec.Status != StatusSent && rec.Status != StatusPublished {
			continue
		}
		if _, ok := c.data.SentPosts[id]; ok {
			continue
		}
		ts := rec.CreatedAt
		if ts.IsZero() {
			ts = c.now()
		}
		c.data.SentPosts[id] = SeenEntry{Timestamp: ts, Status: seenStatusSent}
	}
	return len(c.data.SentPosts), c.persist()
}
