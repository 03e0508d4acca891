// Package moderation drives a post through review: intake into the moderation
// chat, the edit sub-flows, and publishing or deletion.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"path/filepath"
	"strings"
	"time"

	"moderation-bot/internal/database"
	"moderation-bot/internal/locales"
	"moderation-bot/internal/storage"
	"moderation-bot/internal/textlimit"
	"moderation-bot/pkg/telegoapi"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrLockedByOther    = errors.New("post is locked by another moderator")
	ErrNoValidIndices   = errors.New("no valid photo indices")
	ErrIntakeIncomplete = errors.New("intake item is incomplete")
	ErrInvalidState     = errors.New("action is not allowed in the current state")
)

// Rejection is returned by the edit lock guard when another moderator holds the post.
type Rejection struct {
	PostID   string
	HolderID int64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("post %s is locked by moderator %d", r.PostID, r.HolderID)
}

func (r *Rejection) Unwrap() error {
	return ErrLockedByOther
}

// IsUserError reports whether err was caused by moderator input rather than a failure.
func IsUserError(err error) bool {
	return errors.Is(err, ErrLockedByOther) || errors.Is(err, ErrNoValidIndices) ||
		errors.Is(err, ErrInvalidState) || errors.Is(err, ErrPostNotFound)
}

// operationTimeout bounds an engine operation once it has started. Started
// operations outlive the cancellation of the update that triggered them.
const operationTimeout = 2 * time.Minute

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), operationTimeout)
}

// Downloader stores a Telegram file on disk.
type Downloader interface {
	Download(ctx context.Context, fileID, dest string) error
}

// Item is one post picked up from the intake directory.
type Item struct {
	ID        string
	Dir       string
	Text      string
	Source    string
	Photos    []string
	CreatedAt time.Time
}

// Deps holds the collaborators of the engine.
type Deps struct {
	Bot        telegoapi.BotAPI
	Store      *storage.RecordStore
	Seen       *storage.SeenCache
	Locks      *storage.EditLock
	Downloader Downloader
	Audit      database.AuditLogger
	// Cleaner prepares the public caption. Nil publishes the approved text as is.
	Cleaner   TextCleaner
	Localizer *i18n.Localizer

	ModerationChatID int64
	OpenChannelID    int64
	ClosedChannelID  int64
	Signature        string
}

// Engine is the moderation state machine. It is safe for concurrent use;
// events for the same post are applied one at a time.
type Engine struct {
	bot        telegoapi.BotAPI
	store      *storage.RecordStore
	seen       *storage.SeenCache
	locks      *storage.EditLock
	downloader Downloader
	audit      database.AuditLogger
	cleaner    TextCleaner
	localizer  *i18n.Localizer

	chatID          int64
	openChannelID   int64
	closedChannelID int64
	signature       string

	sessions *sessions
	now      func() time.Time
}

// New creates an engine.
func New(deps Deps) *Engine {
	audit := deps.Audit
	if audit == nil {
		audit = database.NopLogger{}
	}
	localizer := deps.Localizer
	if localizer == nil {
		localizer = locales.DefaultLocalizer()
	}
	return &Engine{
		bot:             deps.Bot,
		store:           deps.Store,
		seen:            deps.Seen,
		locks:           deps.Locks,
		downloader:      deps.Downloader,
		audit:           audit,
		cleaner:         deps.Cleaner,
		localizer:       localizer,
		chatID:          deps.ModerationChatID,
		openChannelID:   deps.OpenChannelID,
		closedChannelID: deps.ClosedChannelID,
		signature:       deps.Signature,
		sessions:        newSessions(),
		now:             time.Now,
	}
}

func (e *Engine) msg(id string, data map[string]interface{}) string {
	return locales.GetMessage(e.localizer, id, data, nil)
}

func (e *Engine) previewCaption(text string) string {
	caption, _ := textlimit.Fit(text, textlimit.CaptionLimit, e.signature, textlimit.TruncationMarker)
	return caption
}

func photoPaths(dir string, names []string) []string {
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths
}

// Intake delivers a new post to the moderation chat, records it as sent and
// opens its session in the post view state.
func (e *Engine) Intake(ctx context.Context, item Item) error {
	if item.ID == "" || item.Dir == "" || (strings.TrimSpace(item.Text) == "" && len(item.Photos) == 0) {
		return fmt.Errorf("post %q: %w", item.ID, ErrIntakeIncomplete)
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	unlock := e.sessions.lockPost(item.ID)
	defer unlock()

	text := html.EscapeString(item.Text)
	mediaIDs, err := e.sendAlbum(ctx, e.chatID, photoPaths(item.Dir, item.Photos), e.previewCaption(text))
	if err != nil {
		return fmt.Errorf("failed to deliver post %s: %w", item.ID, err)
	}

	menuText := e.msg("MsgPostMenu", map[string]interface{}{"Source": item.Source})
	menu, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(e.chatID), menuText).WithReplyMarkup(e.postViewKeyboard(item.ID)))
	if err != nil {
		e.deleteMessages(ctx, e.chatID, mediaIDs)
		return fmt.Errorf("failed to deliver action menu for %s: %w", item.ID, err)
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.now()
	}
	pc := &PostContext{
		PostID:            item.ID,
		ChatID:            e.chatID,
		Dir:               item.Dir,
		State:             StatePostView,
		CreatedAt:         createdAt,
		OriginalText:      text,
		Source:            item.Source,
		OriginalMedia:     mediaIDs,
		ServiceMessageIDs: []int{menu.MessageID},
		MenuMessageID:     menu.MessageID,
	}

	rec := storage.Record{
		ID:                item.ID,
		Dir:               item.Dir,
		CreatedAt:         createdAt,
		Status:            storage.StatusSent,
		Text:              text,
		Source:            item.Source,
		Photos:            item.Photos,
		MessageIDs:        pc.messageIDs(),
		KeyboardMessageID: menu.MessageID,
		ChatID:            e.chatID,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		e.deleteMessages(ctx, e.chatID, pc.messageIDs())
		return fmt.Errorf("failed to store post %s: %w", item.ID, err)
	}
	if err := e.seen.MarkSent(item.ID); err != nil {
		// the record is authoritative; the cache is rebuilt from it on start
		log.Printf("[Engine Post:%s] Failed to mark post as seen: %v", item.ID, err)
	}
	e.sessions.put(pc)

	log.Printf("[Engine Post:%s] Delivered to moderation with %d photo(s)", item.ID, len(item.Photos))
	return nil
}

// LoadOrRehydrate returns the session of postID, rebuilding it from the record
// after a restart. The caller must hold the post lock.
func (e *Engine) LoadOrRehydrate(ctx context.Context, postID string) (*PostContext, error) {
	if pc, ok := e.sessions.get(postID); ok {
		return pc, nil
	}

	rec, err := e.store.Get(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("post %s: %w", postID, ErrPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", postID, err)
	}

	chatID := rec.ChatID
	if chatID == 0 {
		chatID = e.chatID
	}
	pc := &PostContext{
		PostID:        postID,
		ChatID:        chatID,
		Dir:           rec.Dir,
		State:         StateModerateMenu,
		CreatedAt:     rec.CreatedAt,
		OriginalText:  rec.Text,
		PendingText:   rec.PendingText,
		Source:        rec.Source,
		OriginalMedia: rec.MediaMessageIDs(),
		Published:     rec.Status == storage.StatusPublished,
	}
	if n := len(rec.MessageIDs); n > 0 {
		pc.MenuMessageID = rec.MessageIDs[n-1]
		pc.ServiceMessageIDs = []int{pc.MenuMessageID}
	}

	holder, held, err := e.locks.Holder(ctx, postID)
	if err != nil {
		log.Printf("[Engine Post:%s] Failed to read edit lock during rehydration: %v", postID, err)
	} else if held {
		pc.OwnerID = holder
	}

	e.sessions.put(pc)
	log.Printf("[Engine Post:%s] Session rehydrated from record (owner %d)", postID, pc.OwnerID)
	return pc, nil
}

// guard is evaluated before any side effect of a state-changing event. A post
// locked by someone else is rejected; with acquire set an unlocked post is
// locked for userID.
func (e *Engine) guard(ctx context.Context, pc *PostContext, userID int64, acquire bool) error {
	holder, held, err := e.locks.Holder(ctx, pc.PostID)
	if err != nil {
		return fmt.Errorf("failed to read edit lock for %s: %w", pc.PostID, err)
	}
	if held {
		if holder != userID {
			return &Rejection{PostID: pc.PostID, HolderID: holder}
		}
		pc.OwnerID = holder
		return nil
	}
	if !acquire {
		return nil
	}

	holder, acquired, err := e.locks.Acquire(ctx, pc.PostID, userID)
	if err != nil {
		return fmt.Errorf("failed to acquire edit lock for %s: %w", pc.PostID, err)
	}
	if !acquired {
		return &Rejection{PostID: pc.PostID, HolderID: holder}
	}
	pc.OwnerID = userID
	log.Printf("[Engine Post:%s User:%d] Edit lock acquired", pc.PostID, userID)
	return nil
}

func acquiresLock(action Action) bool {
	switch action {
	case ActionModerate, ActionDelete:
		return false
	}
	return true
}

// HandleCallback applies an inline button press.
func (e *Engine) HandleCallback(ctx context.Context, query telego.CallbackQuery) error {
	action, postID, ok := ParseToken(query.Data)
	if !ok {
		e.answer(ctx, query.ID, e.msg("MsgCallbackNotHandled", nil), false)
		return nil
	}
	userID := query.From.ID
	ctx, cancel := detach(ctx)
	defer cancel()

	unlock := e.sessions.lockPost(postID)
	defer unlock()

	pc, err := e.LoadOrRehydrate(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			e.answer(ctx, query.ID, e.msg("MsgPostNotFound", nil), true)
		} else {
			e.answer(ctx, query.ID, e.msg("MsgErrorGeneral", nil), true)
		}
		return err
	}

	if err := e.guard(ctx, pc, userID, false); err != nil {
		return e.rejectCallback(ctx, query.ID, pc, userID, err)
	}
	if !canHandle(action, pc.State) {
		log.Printf("[Engine Post:%s User:%d] Action %s ignored in state %s", postID, userID, action, pc.State)
		e.answer(ctx, query.ID, e.msg("MsgInvalidState", nil), true)
		return fmt.Errorf("%s in %s: %w", action, pc.State, ErrInvalidState)
	}
	if acquiresLock(action) {
		if err := e.guard(ctx, pc, userID, true); err != nil {
			return e.rejectCallback(ctx, query.ID, pc, userID, err)
		}
	}

	e.logAction(userID, strings.TrimSuffix(string(action), "_"), postID)

	var notice string
	switch action {
	case ActionModerate:
		e.sessions.clearInput(postID)
		err = e.showMenu(ctx, pc, StateModerateMenu, e.msg("MsgModerateMenu", nil), e.moderateKeyboard(postID))
	case ActionEdit:
		e.sessions.clearInput(postID)
		err = e.showMenu(ctx, pc, StateEditMenu, e.msg("MsgEditMenu", nil), e.editKeyboard(postID))
	case ActionEditText:
		err = e.showMenu(ctx, pc, StateEditTextWait, e.msg("MsgEditTextPrompt", nil), e.backKeyboard(ActionEdit, postID))
		if err == nil {
			e.sessions.expectInput(pc.ChatID, userID, postID, StateEditTextWait)
		}
	case ActionEditMedia:
		e.sessions.clearInput(postID)
		err = e.showMenu(ctx, pc, StateEditMediaMenu, e.msg("MsgMediaMenu", nil), e.mediaKeyboard(postID))
	case ActionAddMedia:
		notice, err = e.promptAddMedia(ctx, pc, userID)
	case ActionRemoveMedia:
		notice, err = e.promptRemoveMedia(ctx, pc, userID)
	case ActionPublish:
		err = e.publish(ctx, pc, userID)
	case ActionDelete:
		err = e.purge(ctx, pc, e.msg("MsgDeleted", nil))
	}

	if err != nil {
		log.Printf("[Engine Post:%s User:%d] Action %s failed: %v", postID, userID, action, err)
		sentry.CaptureException(fmt.Errorf("post %s action %s: %w", postID, action, err))
		failure := e.msg("MsgErrorGeneral", nil)
		if action == ActionPublish {
			failure = e.msg("MsgPublishFailed", nil)
		}
		e.answer(ctx, query.ID, failure, true)
		return err
	}

	e.answer(ctx, query.ID, notice, notice != "")
	return nil
}

func (e *Engine) rejectCallback(ctx context.Context, queryID string, pc *PostContext, userID int64, err error) error {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		log.Printf("[Engine Post:%s User:%d] Rejected, post is held by %d", pc.PostID, userID, rejection.HolderID)
		e.answer(ctx, queryID, e.msg("MsgLockedByOther", map[string]interface{}{"HolderID": rejection.HolderID}), true)
		return rejection
	}
	e.answer(ctx, queryID, e.msg("MsgErrorGeneral", nil), true)
	return err
}

func (e *Engine) promptAddMedia(ctx context.Context, pc *PostContext, userID int64) (string, error) {
	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		return "", err
	}
	remaining := MaxPhotos - len(photos)
	if remaining <= 0 {
		return e.msg("MsgAddMediaFull", map[string]interface{}{"Max": MaxPhotos}), nil
	}

	text := e.msg("MsgAddMediaPrompt", map[string]interface{}{"Remaining": remaining})
	if err := e.showMenu(ctx, pc, StateEditMediaAddWait, text, e.backKeyboard(ActionEditMedia, pc.PostID)); err != nil {
		return "", err
	}
	e.sessions.expectInput(pc.ChatID, userID, pc.PostID, StateEditMediaAddWait)
	return "", nil
}

func (e *Engine) promptRemoveMedia(ctx context.Context, pc *PostContext, userID int64) (string, error) {
	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		return "", err
	}
	if len(photos) == 0 {
		return e.msg("MsgRemoveMediaNone", nil), nil
	}

	lines := make([]string, len(photos))
	for i, name := range photos {
		lines[i] = fmt.Sprintf("%d. %s", i+1, name)
	}
	text := e.msg("MsgRemoveMediaPrompt", map[string]interface{}{"List": strings.Join(lines, "\n")})
	if err := e.showMenu(ctx, pc, StateEditMediaRemoveWait, text, e.backKeyboard(ActionEditMedia, pc.PostID)); err != nil {
		return "", err
	}
	e.sessions.expectInput(pc.ChatID, userID, pc.PostID, StateEditMediaRemoveWait)
	return "", nil
}

// AwaitingMedia reports whether photos from userID in chatID would be added to a post.
func (e *Engine) AwaitingMedia(chatID, userID int64) bool {
	target, ok := e.sessions.inputFor(chatID, userID)
	return ok && target.state == StateEditMediaAddWait
}

// HandleText applies a moderator message to the post waiting for it. It
// reports false when no post expects text from the sender.
func (e *Engine) HandleText(ctx context.Context, message telego.Message) (bool, error) {
	if message.From == nil {
		return false, nil
	}
	target, ok := e.sessions.inputFor(message.Chat.ID, message.From.ID)
	if !ok || target.state == StateEditMediaAddWait {
		return false, nil
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	unlock := e.sessions.lockPost(target.postID)
	defer unlock()

	pc, ok := e.sessions.get(target.postID)
	if !ok || pc.State != target.state {
		return false, nil
	}
	if err := e.guard(ctx, pc, message.From.ID, true); err != nil {
		e.rejectInput(ctx, pc, err)
		return true, err
	}
	pc.trackUserMessage(message.MessageID)

	switch pc.State {
	case StateEditTextWait:
		return true, e.applyText(ctx, pc, message)
	case StateEditMediaRemoveWait:
		return true, e.applyRemoval(ctx, pc, message.Text)
	}
	return false, nil
}

func (e *Engine) rejectInput(ctx context.Context, pc *PostContext, err error) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		e.notify(ctx, pc, e.msg("MsgLockedByOther", map[string]interface{}{"HolderID": rejection.HolderID}))
		return
	}
	e.notify(ctx, pc, e.msg("MsgErrorGeneral", nil))
}

func (e *Engine) applyText(ctx context.Context, pc *PostContext, message telego.Message) error {
	text := textlimit.EntitiesToHTML(message.Text, message.Entities)
	if strings.TrimSpace(text) == "" {
		e.notify(ctx, pc, e.msg("MsgTextEmpty", nil))
		return nil
	}

	pc.PendingText = text
	e.sessions.clearInput(pc.PostID)
	e.logAction(pc.OwnerID, "edit_text_applied", pc.PostID)
	log.Printf("[Engine Post:%s User:%d] Text replaced (%d chars)", pc.PostID, pc.OwnerID, textlimit.Len(text))
	return e.rebuild(ctx, pc, e.msg("MsgTextUpdated", nil))
}

func (e *Engine) applyRemoval(ctx context.Context, pc *PostContext, input string) error {
	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		return err
	}
	indices := ParseIndices(input, len(photos))
	if len(indices) == 0 {
		e.notify(ctx, pc, e.msg("MsgRemoveMediaInvalid", map[string]interface{}{"Count": len(photos)}))
		return fmt.Errorf("post %s input %q: %w", pc.PostID, input, ErrNoValidIndices)
	}
	if _, err := RemovePhotos(pc.Dir, indices); err != nil {
		return err
	}
	e.sessions.clearInput(pc.PostID)

	removed := make([]string, len(indices))
	for i, idx := range indices {
		removed[i] = fmt.Sprint(idx)
	}
	e.logAction(pc.OwnerID, "remove_media_applied", pc.PostID)
	log.Printf("[Engine Post:%s User:%d] Removed photos %v", pc.PostID, pc.OwnerID, indices)
	return e.rebuild(ctx, pc, e.msg("MsgRemoveMediaDone", map[string]interface{}{"Indices": strings.Join(removed, " ")}))
}
