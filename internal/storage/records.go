package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrNotFound is returned when a post record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusRegression is returned when a status change would move a record backwards.
	ErrStatusRegression = errors.New("record status cannot move backwards")
)

// Status is the delivery status of a post. It only moves forward:
// pending -> sent -> published.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusPublished Status = "published"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusPublished:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether a record in status s may be moved to next.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.rank() >= s.rank()
}

// Record is the durable description of one post.
// MessageIDs holds every delivered media message followed by the action menu message.
type Record struct {
	ID                string    `json:"id"`
	Dir               string    `json:"dir"`
	CreatedAt         time.Time `json:"datetime"`
	Status            Status    `json:"status"`
	Text              string    `json:"text"`
	PendingText       string    `json:"pending_text,omitempty"`
	Source            string    `json:"source"`
	Photos            []string  `json:"photos"`
	MessageIDs        []int     `json:"message_ids"`
	KeyboardMessageID int       `json:"keyboard_message_id"`
	ChatID            int64     `json:"chat_id"`
}

// MediaMessageIDs returns MessageIDs without the trailing action menu message.
func (r Record) MediaMessageIDs() []int {
	if len(r.MessageIDs) == 0 {
		return nil
	}
	ids := make([]int, len(r.MessageIDs)-1)
	copy(ids, r.MessageIDs[:len(r.MessageIDs)-1])
	return ids
}

// Records maps post id to record.
type Records map[string]Record

func emptyRecords() Records {
	return Records{}
}

// RecordStore is the locked JSON ledger of all known posts.
type RecordStore struct {
	path string
	lock *FileLock
}

// NewRecordStore creates a store backed by path. The lock marker lives at path+".lock".
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{
		path: path,
		lock: NewFileLock(path),
	}
}

// Lock exposes the underlying file lock, mainly for startup stale-marker cleanup.
func (s *RecordStore) Lock() *FileLock {
	return s.lock
}

// RecordTx gives read/write access to the store while its lock is held.
type RecordTx struct {
	store *RecordStore
}

// Read loads all records. Missing or corrupt data reads as empty.
func (tx *RecordTx) Read() (Records, error) {
	recs, err := readJSON(tx.store.path, emptyRecords)
	if recs == nil {
		recs = Records{}
	}
	return recs, err
}

// Write replaces all records atomically.
func (tx *RecordTx) Write(recs Records) error {
	if recs == nil {
		recs = Records{}
	}
	return writeJSON(tx.store.path, recs)
}

// WithLock runs fn while holding the store lock. All read-modify-write cycles
// on shared post state go through here so concurrent writers never lose updates.
func (s *RecordStore) WithLock(ctx context.Context, fn func(tx *RecordTx) error) error {
	if err := s.lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire record store lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Printf("[RecordStore Path:%s] Unlock failed: %v", s.path, err)
		}
	}()
	return fn(&RecordTx{store: s})
}

// Read returns a snapshot of all records.
func (s *RecordStore) Read(ctx context.Context) (Records, error) {
	var recs Records
	err := s.WithLock(ctx, func(tx *RecordTx) error {
		var err error
		recs, err = tx.Read()
		return err
	})
	return recs, err
}

// Get returns one record or ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, id string) (Record, error) {
	recs, err := s.Read(ctx)
	if err != nil {
		return Record{}, err
	}
	rec, ok := recs[id]
	if !ok {
		return Record{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Has reports whether a record for id exists.
func (s *RecordStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put inserts or replaces a record. Replacing may not regress its status.
func (s *RecordStore) Put(ctx context.Context, rec Record) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("post %s: invalid status %q", rec.ID, rec.Status)
	}
	return s.WithLock(ctx, func(tx *RecordTx) error {
		recs, err := tx.Read()
		if err != nil {
			return err
		}
		if old, ok := recs[rec.ID]; ok && !old.Status.CanAdvanceTo(rec.Status) {
			return fmt.Errorf("post %s %s -> %s: %w", rec.ID, old.Status, rec.Status, ErrStatusRegression)
		}
		recs[rec.ID] = rec
		return tx.Write(recs)
	})
}

// Update applies fn to an existing record inside a single lock acquisition.
func (s *RecordStore) Update(ctx context.Context, id string, fn func(rec *Record) error) (Record, error) {
	var updated Record
	err := s.WithLock(ctx, func(tx *RecordTx) error {
		recs, err := tx.Read()
		if err != nil {
			return err
		}
		rec, ok := recs[id]
		if !ok {
			return fmt.Errorf("post %s: %w", id, ErrNotFound)
		}
		before := rec.Status
		if err := fn(&rec); err != nil {
			return err
		}
		if !before.CanAdvanceTo(rec.Status) {
			return fmt.Errorf("post %s %s -> %s: %w", id, before, rec.Status, ErrStatusRegression)
		}
		recs[id] = rec
		updated = rec
		return tx.Write(recs)
	})
	return updated, err
}

// SetStatus moves a record forward to status.
func (s *RecordStore) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.Update(ctx, id, func(rec *Record) error {
		rec.Status = status
		return nil
	})
	return err
}

// Delete removes a record. It returns false if the record did not exist.
func (s *RecordStore) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.WithLock(ctx, func(tx *RecordTx) error {
		recs, err := tx.Read()
		if err != nil {
			return err
		}
		if _, existed = recs[id]; !existed {
			return nil
		}
		delete(recs, id)
		return tx.Write(recs)
	})
	return existed, err
}
