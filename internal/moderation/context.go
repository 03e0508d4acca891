package moderation

import (
	"sync"
	"time"
)

// PostContext is the live moderation session of one post.
type PostContext struct {
	PostID    string
	ChatID    int64
	Dir       string
	State     State
	OwnerID   int64
	CreatedAt time.Time

	OriginalText string
	PendingText  string
	Source       string

	// OriginalMedia holds the ids of the media messages currently shown in the chat.
	OriginalMedia []int
	// ServiceMessageIDs holds menus and prompts; the action menu is MenuMessageID.
	ServiceMessageIDs []int
	UserMessageIDs    []int
	MenuMessageID     int

	// Published is set once both destinations received the post; only cleanup remains.
	Published bool
}

// Text returns the caption body the moderator currently approves.
func (pc *PostContext) Text() string {
	if pc.PendingText != "" {
		return pc.PendingText
	}
	return pc.OriginalText
}

// messageIDs returns the ids persisted with the record: media followed by the menu.
func (pc *PostContext) messageIDs() []int {
	ids := make([]int, 0, len(pc.OriginalMedia)+1)
	ids = append(ids, pc.OriginalMedia...)
	if pc.MenuMessageID != 0 {
		ids = append(ids, pc.MenuMessageID)
	}
	return ids
}

func (pc *PostContext) trackUserMessage(id int) {
	if id != 0 {
		pc.UserMessageIDs = append(pc.UserMessageIDs, id)
	}
}

type inputKey struct {
	chatID int64
	userID int64
}

type inputTarget struct {
	postID string
	state  State
}

// sessions owns every PostContext plus a mutex per post so that events for one
// post are applied one at a time while different posts proceed independently.
type sessions struct {
	mu     sync.Mutex
	posts  map[string]*PostContext
	locks  map[string]*sync.Mutex
	inputs map[inputKey]inputTarget
}

func newSessions() *sessions {
	return &sessions{
		posts:  make(map[string]*PostContext),
		locks:  make(map[string]*sync.Mutex),
		inputs: make(map[inputKey]inputTarget),
	}
}

func (s *sessions) lockPost(postID string) func() {
	s.mu.Lock()
	l, ok := s.locks[postID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[postID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *sessions) get(postID string) (*PostContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.posts[postID]
	return pc, ok
}

func (s *sessions) put(pc *PostContext) {
	s.mu.Lock()
	s.posts[pc.PostID] = pc
	s.mu.Unlock()
}

// drop forgets the post and every input routed to it.
func (s *sessions) drop(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, postID)
	delete(s.locks, postID)
	s.clearInputLocked(postID)
}

// expectInput routes the next message of userID in chatID to postID while it
// waits in state. A post waits for at most one user.
func (s *sessions) expectInput(chatID, userID int64, postID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearInputLocked(postID)
	s.inputs[inputKey{chatID, userID}] = inputTarget{postID: postID, state: state}
}

func (s *sessions) clearInput(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearInputLocked(postID)
}

func (s *sessions) clearInputLocked(postID string) {
	for k, target := range s.inputs {
		if target.postID == postID {
			delete(s.inputs, k)
		}
	}
}

func (s *sessions) inputFor(chatID, userID int64) (inputTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.inputs[inputKey{chatID, userID}]
	return target, ok
}
