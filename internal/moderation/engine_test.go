package moderation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"moderation-bot/internal/database/models"
	"moderation-bot/internal/locales"
	"moderation-bot/internal/mediagroups"
	"moderation-bot/internal/storage"
	"moderation-bot/pkg/telegoapi/mocks"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	moderationChat = int64(-100)
	openChannel    = int64(-200)
	closedChannel  = int64(-300)
	moderatorA     = int64(111)
	moderatorB     = int64(222)
	testSignature  = "\n\nsig"
	testSource     = "Канал X\nhttps://t.me/x/1\nлишняя строка"
)

type fakeDownloader struct {
	mu      sync.Mutex
	fileIDs []string
}

func (d *fakeDownloader) Download(_ context.Context, fileID, dest string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileIDs = append(d.fileIDs, fileID)
	return os.WriteFile(dest, []byte(fileID), 0o644)
}

type recordingAudit struct {
	mu      sync.Mutex
	posts   []models.PostLog
	actions []string
}

func (a *recordingAudit) LogPublishedPost(entry models.PostLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posts = append(a.posts, entry)
	return nil
}

func (a *recordingAudit) LogUserAction(_ int64, action string, _ interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAudit) UpdateUser(context.Context, int64, string, string, string, bool, string) error {
	return nil
}

type testEnv struct {
	bot        *mocks.MockBot
	engine     *Engine
	store      *storage.RecordStore
	seen       *storage.SeenCache
	locks      *storage.EditLock
	downloader *fakeDownloader
	audit      *recordingAudit
	saveDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	locales.Init("ru")
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	env := &testEnv{
		bot:        new(mocks.MockBot),
		store:      storage.NewRecordStore(filepath.Join(dataDir, "storage.json")),
		seen:       storage.NewSeenCache(filepath.Join(dataDir, "sent_posts_cache.json")),
		locks:      storage.NewEditLock(filepath.Join(dataDir, "moderation_block.json")),
		downloader: &fakeDownloader{},
		audit:      &recordingAudit{},
		saveDir:    filepath.Join(root, "saved"),
	}
	env.engine = env.newEngine()
	return env
}

// newEngine simulates a restart: a fresh engine over the same files.
func (env *testEnv) newEngine() *Engine {
	return New(Deps{
		Bot:              env.bot,
		Store:            env.store,
		Seen:             env.seen,
		Locks:            env.locks,
		Downloader:       env.downloader,
		Audit:            env.audit,
		ModerationChatID: moderationChat,
		OpenChannelID:    openChannel,
		ClosedChannelID:  closedChannel,
		Signature:        testSignature,
	})
}

func messageTo(chatID int64) interface{} {
	return mock.MatchedBy(func(p *telego.SendMessageParams) bool { return p.ChatID.ID == chatID })
}

func mediaGroupTo(chatID int64) interface{} {
	return mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool { return p.ChatID.ID == chatID })
}

func firstCaption(p *telego.SendMediaGroupParams) string {
	if photo, ok := p.Media[0].(*telego.InputMediaPhoto); ok {
		return photo.Caption
	}
	return ""
}

func (env *testEnv) stubModerationChat() {
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(moderationChat)).
		Return([]telego.Message{{MessageID: 11}, {MessageID: 12}, {MessageID: 13}}, nil).Maybe()
	env.bot.On("SendMessage", mock.Anything, messageTo(moderationChat)).Return(&telego.Message{MessageID: 50}, nil).Maybe()
	env.bot.On("EditMessageText", mock.Anything, mock.Anything).Return(&telego.Message{MessageID: 50}, nil).Maybe()
	env.bot.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil).Maybe()
	env.bot.On("AnswerCallbackQuery", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func (env *testEnv) intake(t *testing.T, postID string, photos int) Item {
	t.Helper()
	dir := filepath.Join(env.saveDir, postID)
	writePhotos(t, dir, photos)
	names, err := ListPhotos(dir)
	require.NoError(t, err)
	item := Item{ID: postID, Dir: dir, Text: "Hello <world>", Source: testSource, Photos: names}
	require.NoError(t, env.engine.Intake(context.Background(), item))
	return item
}

func (env *testEnv) press(engine *Engine, userID int64, action Action, postID string) error {
	return engine.HandleCallback(context.Background(), telego.CallbackQuery{
		ID:   "query",
		From: telego.User{ID: userID},
		Data: Token(action, postID),
	})
}

func (env *testEnv) pressAll(t *testing.T, userID int64, postID string, actions ...Action) {
	t.Helper()
	for _, action := range actions {
		require.NoError(t, env.press(env.engine, userID, action, postID), string(action))
	}
}

func (env *testEnv) state(t *testing.T, postID string) State {
	t.Helper()
	pc, ok := env.engine.sessions.get(postID)
	require.True(t, ok, "session of %s", postID)
	return pc.State
}

func textMessage(userID int64, messageID int, text string) telego.Message {
	return telego.Message{
		MessageID: messageID,
		From:      &telego.User{ID: userID},
		Chat:      telego.Chat{ID: moderationChat},
		Text:      text,
	}
}

func TestEngine_Intake(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()

	env.intake(t, "post_1", 3)

	rec, err := env.store.Get(context.Background(), "post_1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, rec.Status)
	assert.Equal(t, []int{11, 12, 13, 50}, rec.MessageIDs)
	assert.Equal(t, 50, rec.KeyboardMessageID)
	assert.Equal(t, "Hello &lt;world&gt;", rec.Text)
	assert.Equal(t, []string{"photo_1.jpg", "photo_2.jpg", "photo_3.jpg"}, rec.Photos)

	sent, err := env.seen.IsSent("post_1")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, StatePostView, env.state(t, "post_1"))

	env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
		if len(p.Media) != 3 {
			return false
		}
		first := p.Media[0].(*telego.InputMediaPhoto)
		second := p.Media[1].(*telego.InputMediaPhoto)
		return first.Caption == "Hello &lt;world&gt;"+testSignature &&
			first.ParseMode == telego.ModeHTML && second.Caption == ""
	}))
	env.bot.AssertCalled(t, "SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		return strings.Contains(p.Text, "Канал X") && p.ReplyMarkup != nil
	}))
}

func TestEngine_IntakeRejectsIncompleteItem(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.Intake(context.Background(), Item{ID: "post_1", Dir: t.TempDir()})

	assert.ErrorIs(t, err, ErrIntakeIncomplete)
	env.bot.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestEngine_GuardRejectsSecondModerator(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit)

	for _, action := range []Action{ActionEditText, ActionModerate, ActionDelete, ActionPublish} {
		t.Run(string(action), func(t *testing.T) {
			err := env.press(env.engine, moderatorB, action, "post_1")

			var rejection *Rejection
			require.ErrorAs(t, err, &rejection)
			assert.ErrorIs(t, err, ErrLockedByOther)
			assert.Equal(t, moderatorA, rejection.HolderID)
			assert.Equal(t, StateEditMenu, env.state(t, "post_1"))

			holder, held, err := env.locks.Holder(context.Background(), "post_1")
			require.NoError(t, err)
			assert.True(t, held)
			assert.Equal(t, moderatorA, holder)
		})
	}

	has, err := env.store.Has(context.Background(), "post_1")
	require.NoError(t, err)
	assert.True(t, has, "rejected delete must not purge the post")
	env.bot.AssertCalled(t, "AnswerCallbackQuery", mock.Anything, mock.MatchedBy(func(p *telego.AnswerCallbackQueryParams) bool {
		return p.ShowAlert && strings.Contains(p.Text, "111")
	}))
}

func TestEngine_InvalidStateDoesNotLock(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	env.intake(t, "post_1", 2)

	err := env.press(env.engine, moderatorA, ActionPublish, "post_1")

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatePostView, env.state(t, "post_1"))
	_, held, err := env.locks.Holder(context.Background(), "post_1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestEngine_UnknownCallback(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()

	err := env.engine.HandleCallback(context.Background(), telego.CallbackQuery{ID: "q", Data: "something_else"})

	require.NoError(t, err)
	env.bot.AssertCalled(t, "AnswerCallbackQuery", mock.Anything, mock.Anything)
}

func TestEngine_PublishOpenFailureKeepsPostSent(t *testing.T) {
	env := newTestEnv(t)
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(openChannel)).Return(nil, errors.New("Bad Request: chat not found")).Once()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel)).Return([]telego.Message{{MessageID: 1}}, nil).Maybe()
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate)

	err := env.press(env.engine, moderatorA, ActionPublish, "post_1")

	require.Error(t, err)
	env.bot.AssertNotCalled(t, "SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel))
	rec, err := env.store.Get(context.Background(), "post_1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, rec.Status)
	holder, held, _ := env.locks.Holder(context.Background(), "post_1")
	assert.True(t, held, "lock is kept so the moderator can retry")
	assert.Equal(t, moderatorA, holder)
	assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
	assert.DirExists(t, item.Dir)
	assert.Empty(t, env.audit.posts)
}

func TestEngine_PublishClosedFailureKeepsPostSent(t *testing.T) {
	env := newTestEnv(t)
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(openChannel)).Return([]telego.Message{{MessageID: 701}}, nil).Once()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel)).Return(nil, errors.New("Forbidden: bot is not a member")).Once()
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate)

	err := env.press(env.engine, moderatorA, ActionPublish, "post_1")

	require.Error(t, err)
	rec, err := env.store.Get(context.Background(), "post_1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, rec.Status)
	holder, held, _ := env.locks.Holder(context.Background(), "post_1")
	assert.True(t, held)
	assert.Equal(t, moderatorA, holder)
	assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
	assert.DirExists(t, item.Dir)
	assert.Empty(t, env.audit.posts)
	env.bot.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestEngine_PublishSurvivesCancelledUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(openChannel)).Return([]telego.Message{{MessageID: 701}}, nil).Once()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel)).Run(func(mock.Arguments) {
		cancel()
	}).Return([]telego.Message{{MessageID: 801}}, nil).Once()
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate)

	err := env.engine.HandleCallback(ctx, telego.CallbackQuery{
		ID:   "query",
		From: telego.User{ID: moderatorA},
		Data: Token(ActionPublish, "post_1"),
	})

	require.NoError(t, err)
	require.Error(t, ctx.Err())
	has, err := env.store.Has(context.Background(), "post_1")
	require.NoError(t, err)
	assert.False(t, has)
	_, held, err := env.locks.Holder(context.Background(), "post_1")
	require.NoError(t, err)
	assert.False(t, held)
	assert.NoDirExists(t, item.Dir)
	for _, id := range []int{11, 12, 13, 50} {
		env.bot.AssertCalled(t, "DeleteMessage", mock.Anything, &telego.DeleteMessageParams{ChatID: telego.ChatID{ID: moderationChat}, MessageID: id})
	}
	require.Len(t, env.audit.posts, 1)
}

func TestEngine_PurgeKeepsPostWhenRecordCannotBeDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 2)
	pc, ok := env.engine.sessions.get("post_1")
	require.True(t, ok)
	require.NoError(t, env.store.Lock().Lock(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := env.engine.purge(ctx, pc, "")
	require.NoError(t, env.store.Lock().Unlock())

	require.Error(t, err)
	assert.DirExists(t, item.Dir)
	_, ok = env.engine.sessions.get("post_1")
	assert.True(t, ok)
	env.bot.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestEngine_PublishSuccessPurges(t *testing.T) {
	env := newTestEnv(t)
	var order []int64
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(openChannel)).Run(func(mock.Arguments) {
		order = append(order, openChannel)
	}).Return([]telego.Message{{MessageID: 701}, {MessageID: 702}, {MessageID: 703}}, nil).Once()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel)).Run(func(mock.Arguments) {
		order = append(order, closedChannel)
	}).Return([]telego.Message{{MessageID: 801}, {MessageID: 802}, {MessageID: 803}}, nil).Once()
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	require.NoError(t, os.WriteFile(filepath.Join(item.Dir, "text_close.txt"), []byte("Full text +7 999 123 45 67\n"), 0o644))
	env.pressAll(t, moderatorA, "post_1", ActionModerate)

	err := env.press(env.engine, moderatorA, ActionPublish, "post_1")

	require.NoError(t, err)
	assert.Equal(t, []int64{openChannel, closedChannel}, order)
	env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
		return p.ChatID.ID == openChannel && firstCaption(p) == "Hello &lt;world&gt;"+testSignature
	}))
	env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
		return p.ChatID.ID == closedChannel && firstCaption(p) == "Full text +7 999 123 45 67\n\nКанал X\nhttps://t.me/x/1"
	}))

	for _, id := range []int{11, 12, 13, 50} {
		env.bot.AssertCalled(t, "DeleteMessage", mock.Anything, &telego.DeleteMessageParams{ChatID: telego.ChatID{ID: moderationChat}, MessageID: id})
	}
	has, err := env.store.Has(context.Background(), "post_1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.NoDirExists(t, item.Dir)
	_, held, _ := env.locks.Holder(context.Background(), "post_1")
	assert.False(t, held)
	_, ok := env.engine.sessions.get("post_1")
	assert.False(t, ok)
	sent, _ := env.seen.IsSent("post_1")
	assert.True(t, sent, "a finished post stays seen")

	require.Len(t, env.audit.posts, 1)
	assert.Equal(t, []int{701, 702, 703}, env.audit.posts[0].OpenMessageIDs)
	assert.Equal(t, []int{801, 802, 803}, env.audit.posts[0].ClosedMessageIDs)
	assert.Equal(t, moderatorA, env.audit.posts[0].ModeratorID)
}

func TestEngine_PublishCleansOpenCaption(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cleaner = ContactStripper{}
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(openChannel)).Return([]telego.Message{{MessageID: 1}}, nil).Once()
	env.bot.On("SendMediaGroup", mock.Anything, mediaGroupTo(closedChannel)).Return([]telego.Message{{MessageID: 2}}, nil).Once()
	env.stubModerationChat()
	dir := filepath.Join(env.saveDir, "post_1")
	writePhotos(t, dir, 2)
	require.NoError(t, env.engine.Intake(context.Background(), Item{
		ID: "post_1", Dir: dir, Text: "Пишите @seller_name", Source: "src", Photos: []string{"photo_1.jpg", "photo_2.jpg"},
	}))
	env.pressAll(t, moderatorA, "post_1", ActionModerate)

	require.NoError(t, env.press(env.engine, moderatorA, ActionPublish, "post_1"))

	env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
		return p.ChatID.ID == openChannel && firstCaption(p) == "Пишите"+testSignature
	}))
	env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
		return p.ChatID.ID == closedChannel && firstCaption(p) == "Пишите @seller_name\n\nsrc"
	}))
}

func TestEngine_DeletePurges(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)

	require.NoError(t, env.press(env.engine, moderatorA, ActionDelete, "post_1"))

	has, _ := env.store.Has(context.Background(), "post_1")
	assert.False(t, has)
	assert.NoDirExists(t, item.Dir)
	_, ok := env.engine.sessions.get("post_1")
	assert.False(t, ok)
	env.bot.AssertNotCalled(t, "SendMediaGroup", mock.Anything, mediaGroupTo(openChannel))

	err := env.press(env.engine, moderatorA, ActionModerate, "post_1")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestEngine_EditTextFlow(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit, ActionEditText)
	require.Equal(t, StateEditTextWait, env.state(t, "post_1"))

	t.Run("OtherUserIsNotRouted", func(t *testing.T) {
		handled, err := env.engine.HandleText(context.Background(), textMessage(moderatorB, 899, "hijack"))

		require.NoError(t, err)
		assert.False(t, handled)
		assert.Equal(t, StateEditTextWait, env.state(t, "post_1"))
	})

	t.Run("HolderReplacesText", func(t *testing.T) {
		msg := textMessage(moderatorA, 900, "New text")
		msg.Entities = []telego.MessageEntity{{Type: "bold", Offset: 0, Length: 3}}

		handled, err := env.engine.HandleText(context.Background(), msg)

		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
		pc, _ := env.engine.sessions.get("post_1")
		assert.Equal(t, "<b>New</b> text", pc.PendingText)
		assert.Equal(t, []int{900}, pc.UserMessageIDs)

		rec, err := env.store.Get(context.Background(), "post_1")
		require.NoError(t, err)
		assert.Equal(t, "<b>New</b> text", rec.PendingText)
		assert.Equal(t, []int{11, 12, 13, 50}, rec.MessageIDs)

		env.bot.AssertCalled(t, "SendMediaGroup", mock.Anything, mock.MatchedBy(func(p *telego.SendMediaGroupParams) bool {
			return p.ChatID.ID == moderationChat && firstCaption(p) == "<b>New</b> text"+testSignature
		}))
	})

	t.Run("NoLongerWaiting", func(t *testing.T) {
		handled, err := env.engine.HandleText(context.Background(), textMessage(moderatorA, 901, "again"))

		require.NoError(t, err)
		assert.False(t, handled)
	})
}

func TestEngine_RemoveMediaFlow(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit, ActionEditMedia, ActionRemoveMedia)
	require.Equal(t, StateEditMediaRemoveWait, env.state(t, "post_1"))
	ctx := context.Background()

	t.Run("NoValidIndex", func(t *testing.T) {
		handled, err := env.engine.HandleText(ctx, textMessage(moderatorA, 900, "abc 7"))

		assert.True(t, handled)
		assert.ErrorIs(t, err, ErrNoValidIndices)
		assert.True(t, IsUserError(err))
		assert.Equal(t, StateEditMediaRemoveWait, env.state(t, "post_1"))
		assert.Equal(t, []string{"1", "2", "3"}, photoContents(t, item.Dir))
	})

	t.Run("DuplicateAndOutOfRangeIgnored", func(t *testing.T) {
		handled, err := env.engine.HandleText(ctx, textMessage(moderatorA, 901, "2 2 99"))

		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
		assert.Equal(t, []string{"1", "3"}, photoContents(t, item.Dir))
		rec, err := env.store.Get(ctx, "post_1")
		require.NoError(t, err)
		assert.Equal(t, []string{"photo_1.jpg", "photo_2.jpg"}, rec.Photos)
		pc, _ := env.engine.sessions.get("post_1")
		assert.Equal(t, []int{900, 901}, pc.UserMessageIDs)
	})

	t.Run("EveryPhotoRemoved", func(t *testing.T) {
		env.pressAll(t, moderatorA, "post_1", ActionEdit, ActionEditMedia, ActionRemoveMedia)

		handled, err := env.engine.HandleText(ctx, textMessage(moderatorA, 902, "1 2"))

		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
		assert.Empty(t, photoContents(t, item.Dir))
		rec, err := env.store.Get(ctx, "post_1")
		require.NoError(t, err)
		assert.Empty(t, rec.Photos)
	})
}

func TestEngine_AddMediaFlow(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit, ActionEditMedia, ActionAddMedia)
	ctx := context.Background()

	require.Equal(t, StateEditMediaAddWait, env.state(t, "post_1"))
	assert.True(t, env.engine.AwaitingMedia(moderationChat, moderatorA))
	assert.False(t, env.engine.AwaitingMedia(moderationChat, moderatorB))
	env.bot.AssertCalled(t, "EditMessageText", mock.Anything, mock.MatchedBy(func(p *telego.EditMessageTextParams) bool {
		return p.MessageID == 50 && strings.Contains(p.Text, "7")
	}))

	photo := func(id int, fileID string) telego.Message {
		return telego.Message{
			MessageID: id,
			From:      &telego.User{ID: moderatorA},
			Chat:      telego.Chat{ID: moderationChat},
			Photo:     []telego.PhotoSize{{FileID: "thumb"}, {FileID: fileID}},
		}
	}
	err := env.engine.HandlePhotos(ctx, mediagroups.Key{ActorID: moderatorA, BatchID: "album"},
		[]telego.Message{photo(901, "f1"), photo(902, "f2")})

	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "f1", "f2"}, photoContents(t, item.Dir))
	assert.Equal(t, StateModerateMenu, env.state(t, "post_1"))
	assert.False(t, env.engine.AwaitingMedia(moderationChat, moderatorA))
	rec, err := env.store.Get(ctx, "post_1")
	require.NoError(t, err)
	assert.Len(t, rec.Photos, 5)
}

func TestEngine_AddMediaDropsOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 9)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit, ActionEditMedia, ActionAddMedia)

	var batch []telego.Message
	for i, fileID := range []string{"a", "b", "c"} {
		batch = append(batch, telego.Message{
			MessageID: 900 + i,
			From:      &telego.User{ID: moderatorA},
			Chat:      telego.Chat{ID: moderationChat},
			Photo:     []telego.PhotoSize{{FileID: fileID}},
		})
	}
	err := env.engine.HandlePhotos(context.Background(), mediagroups.Key{ActorID: moderatorA, BatchID: "g"}, batch)

	require.NoError(t, err)
	contents := photoContents(t, item.Dir)
	assert.Len(t, contents, MaxPhotos)
	assert.Equal(t, "a", contents[9])
	assert.Equal(t, []string{"a"}, env.downloader.fileIDs)
}

func TestEngine_PhotosWithoutPromptIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	item := env.intake(t, "post_1", 2)

	err := env.engine.HandlePhotos(context.Background(), mediagroups.Key{ActorID: moderatorA},
		[]telego.Message{{MessageID: 5, Chat: telego.Chat{ID: moderationChat}, Photo: []telego.PhotoSize{{FileID: "x"}}}})

	require.NoError(t, err)
	assert.Len(t, photoContents(t, item.Dir), 2)
	assert.Empty(t, env.downloader.fileIDs)
}

func TestEngine_RehydratesAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	env.stubModerationChat()
	env.intake(t, "post_1", 3)
	env.pressAll(t, moderatorA, "post_1", ActionModerate, ActionEdit)

	restarted := env.newEngine()

	err := env.press(restarted, moderatorB, ActionModerate, "post_1")
	assert.ErrorIs(t, err, ErrLockedByOther)

	require.NoError(t, env.press(restarted, moderatorA, ActionModerate, "post_1"))
	pc, ok := restarted.sessions.get("post_1")
	require.True(t, ok)
	assert.Equal(t, StateModerateMenu, pc.State)
	assert.Equal(t, moderatorA, pc.OwnerID)
	assert.Equal(t, []int{11, 12, 13}, pc.OriginalMedia)
	assert.Equal(t, 50, pc.MenuMessageID)

	err = env.press(restarted, moderatorA, ActionModerate, "post_missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}
