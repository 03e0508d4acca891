package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
)

type editLocks map[string]int64

func emptyEditLocks() editLocks {
	return editLocks{}
}

// EditLock maps post id to the moderator currently allowed to act on it.
// It is persisted to its own JSON file with the same marker-lock and
// atomic-replace discipline as RecordStore.
type EditLock struct {
	path string
	lock *FileLock
}

// NewEditLock creates an edit lock table persisted at path.
func NewEditLock(path string) *EditLock {
	return &EditLock{path: path, lock: NewFileLock(path)}
}

// Lock exposes the underlying file lock.
func (e *EditLock) Lock() *FileLock {
	return e.lock
}

func (e *EditLock) withTable(ctx context.Context, fn func(t editLocks) (bool, error)) error {
	if err := e.lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire edit lock table: %w", err)
	}
	defer func() {
		if err := e.lock.Unlock(); err != nil {
			log.Printf("[EditLock Path:%s] Unlock failed: %v", e.path, err)
		}
	}()

	table, err := readJSON(e.path, emptyEditLocks)
	if err != nil {
		return err
	}
	if table == nil {
		table = editLocks{}
	}
	changed, err := fn(table)
	if err != nil || !changed {
		return err
	}
	return writeJSON(e.path, table)
}

// Acquire makes userID the holder of postID unless another user already holds it.
// It returns the holder after the call and whether userID is that holder.
func (e *EditLock) Acquire(ctx context.Context, postID string, userID int64) (int64, bool, error) {
	var holder int64
	err := e.withTable(ctx, func(t editLocks) (bool, error) {
		if current, ok := t[postID]; ok {
			holder = current
			return false, nil
		}
		t[postID] = userID
		holder = userID
		return true, nil
	})
	if err != nil {
		return 0, false, err
	}
	return holder, holder == userID, nil
}

// Holder returns the current holder of postID.
func (e *EditLock) Holder(ctx context.Context, postID string) (int64, bool, error) {
	var (
		holder int64
		ok     bool
	)
	err := e.withTable(ctx, func(t editLocks) (bool, error) {
		holder, ok = t[postID]
		return false, nil
	})
	return holder, ok, err
}

// Release removes the lock on postID.
func (e *EditLock) Release(ctx context.Context, postID string) error {
	return e.withTable(ctx, func(t editLocks) (bool, error) {
		if _, ok := t[postID]; !ok {
			return false, nil
		}
		delete(t, postID)
		return true, nil
	})
}

// Reconcile drops locks whose post no longer has a record, which happens when
// the process stops between deleting a record and releasing its lock.
// It returns the ids of the dropped locks.
func (e *EditLock) Reconcile(ctx context.Context, store *RecordStore) ([]string, error) {
	recs, err := store.Read(ctx)
	if err != nil {
		return nil, err
	}
	var dropped []string
	err = e.withTable(ctx, func(t editLocks) (bool, error) {
		for postID := range t {
			if _, ok := recs[postID]; !ok {
				delete(t, postID)
				dropped = append(dropped, postID)
			}
		}
		return len(dropped) > 0, nil
	})
	sort.Strings(dropped)
	if len(dropped) > 0 {
		log.Printf("[EditLock Path:%s] Reconcile dropped %d orphaned lock(s): %v", e.path, len(dropped), dropped)
	}
	return dropped, err
}
