package mediagroups

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
)

const (
	// DefaultProcessDelay is the quiet period after the last arrival before a batch is finalized.
	DefaultProcessDelay = 9 * time.Second
	// DefaultMaxGroupSize limits the number of messages stored per batch.
	DefaultMaxGroupSize = 10
)

// Key identifies one batch: the same album id sent by two users is two batches.
type Key struct {
	ActorID int64
	BatchID string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ActorID, k.BatchID)
}

// ProcessFunc receives a finalized batch ordered by message id.
// Messages without a media group id arrive alone with an empty BatchID.
type ProcessFunc func(ctx context.Context, key Key, messages []telego.Message) error

type batchState struct {
	messages []telego.Message
	timer    *time.Timer
	gen      uint64
	done     bool
	mu       sync.Mutex
}

// Manager debounces album parts arriving as separate updates. Every new part
// restarts the batch timer; the handler runs once the batch has been quiet for delay.
type Manager struct {
	groups  sync.Map // map[Key]*batchState
	handler ProcessFunc
	delay   time.Duration
	maxSize int
	timeout time.Duration
}

// NewManager creates a batcher that hands finished batches to handler.
func NewManager(handler ProcessFunc, delay time.Duration, maxSize int) *Manager {
	if delay <= 0 {
		delay = DefaultProcessDelay
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxGroupSize
	}
	return &Manager{
		handler: handler,
		delay:   delay,
		maxSize: maxSize,
		timeout: 2 * time.Minute,
	}
}

// HandleMessage adds a message to its batch. A message without a media group id
// is not batched: the handler runs immediately on the caller's goroutine.
func (m *Manager) HandleMessage(ctx context.Context, message telego.Message) error {
	var actorID int64
	if message.From != nil {
		actorID = message.From.ID
	}
	key := Key{ActorID: actorID, BatchID: message.MediaGroupID}

	if message.MediaGroupID == "" {
		return m.handler(ctx, key, []telego.Message{message})
	}

	for {
		val, _ := m.groups.LoadOrStore(key, &batchState{
			messages: make([]telego.Message, 0, m.maxSize),
		})
		state := val.(*batchState)

		state.mu.Lock()
		if state.done {
			// lost the race with the timer; start a fresh batch
			state.mu.Unlock()
			m.groups.CompareAndDelete(key, state)
			continue
		}

		if isDuplicate(state.messages, message) {
			state.mu.Unlock()
			log.Printf("[MediaBatcher Batch:%s] Duplicate message %d ignored", key, message.MessageID)
			return nil
		}

		if len(state.messages) < m.maxSize {
			state.messages = append(state.messages, message)
			sort.SliceStable(state.messages, func(i, j int) bool {
				return state.messages[i].MessageID < state.messages[j].MessageID
			})
			log.Printf("[MediaBatcher Batch:%s] Added message %d. Total: %d", key, message.MessageID, len(state.messages))
		} else {
			log.Printf("[MediaBatcher Batch:%s] Batch limit (%d) reached, message %d dropped.", key, m.maxSize, message.MessageID)
		}

		if state.timer != nil {
			state.timer.Stop()
		}
		state.gen++
		gen := state.gen
		state.timer = time.AfterFunc(m.delay, func() {
			m.fire(key, state, gen)
		})
		state.mu.Unlock()
		return nil
	}
}

func isDuplicate(messages []telego.Message, message telego.Message) bool {
	uniqueID := largestPhotoUniqueID(message)
	for _, msg := range messages {
		if msg.MessageID == message.MessageID {
			return true
		}
		if uniqueID != "" && largestPhotoUniqueID(msg) == uniqueID {
			return true
		}
	}
	return false
}

func largestPhotoUniqueID(message telego.Message) string {
	if len(message.Photo) == 0 {
		return ""
	}
	return message.Photo[len(message.Photo)-1].FileUniqueID
}

// fire finalizes the batch if gen is still its latest timer generation.
func (m *Manager) fire(key Key, state *batchState, gen uint64) {
	state.mu.Lock()
	if state.done || state.gen != gen {
		state.mu.Unlock()
		return
	}
	state.done = true
	state.timer = nil
	messages := make([]telego.Message, len(state.messages))
	copy(messages, state.messages)
	state.mu.Unlock()

	m.groups.CompareAndDelete(key, state)

	if len(messages) == 0 {
		log.Printf("[MediaBatcher Batch:%s] Timer fired, but batch was empty.", key)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[MediaBatcher Batch:%s] PANIC recovered: %v\n%s", key, r, debug.Stack())
			sentry.CurrentHub().Recover(r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	log.Printf("[MediaBatcher Batch:%s] Quiet period elapsed. Processing %d messages.", key, len(messages))
	if err := m.handler(ctx, key, messages); err != nil {
		log.Printf("[MediaBatcher Batch:%s] Error processing batch: %v", key, err)
		sentry.CaptureException(fmt.Errorf("media batch %s: %w", key, err))
	}
}

// Cancel discards a pending batch. It returns false if there was none.
func (m *Manager) Cancel(key Key) bool {
	val, loaded := m.groups.LoadAndDelete(key)
	if !loaded {
		return false
	}
	state := val.(*batchState)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	wasPending := !state.done
	state.done = true
	return wasPending
}

// CancelActor discards every pending batch of one actor.
func (m *Manager) CancelActor(actorID int64) int {
	cancelled := 0
	m.groups.Range(func(k, _ interface{}) bool {
		key := k.(Key)
		if key.ActorID == actorID && m.Cancel(key) {
			cancelled++
		}
		return true
	})
	return cancelled
}

// Pending returns the number of messages buffered for key.
func (m *Manager) Pending(key Key) int {
	val, ok := m.groups.Load(key)
	if !ok {
		return 0
	}
	state := val.(*batchState)
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.messages)
}

// Shutdown stops all active timers and drops the pending batches.
func (m *Manager) Shutdown() {
	log.Println("[MediaBatcher] Shutting down, stopping active timers...")
	stopped := 0
	m.groups.Range(func(k, _ interface{}) bool {
		if m.Cancel(k.(Key)) {
			stopped++
		}
		return true
	})
	log.Printf("[MediaBatcher] Shutdown complete. Dropped %d pending batch(es).", stopped)
}
