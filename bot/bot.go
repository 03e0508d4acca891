package bot

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"moderation-bot/internal/auth"
	dbi "moderation-bot/internal/database"
	"moderation-bot/internal/locales"
	"moderation-bot/internal/moderation"
	"moderation-bot/internal/scanner"
	telegoapi "moderation-bot/pkg/telegoapi"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/ratelimit"
)

const (
	updatesPerSecond  = 20
	processingTimeout = 30 * time.Second
)

// Engine is the part of the moderation engine the update loop drives.
type Engine interface {
	HandleCallback(ctx context.Context, query telego.CallbackQuery) error
	HandleText(ctx context.Context, message telego.Message) (bool, error)
	AwaitingMedia(chatID, userID int64) bool
}

// Batcher collects photo messages into batches.
type Batcher interface {
	HandleMessage(ctx context.Context, message telego.Message) error
}

// Sweeper runs one pass over the intake directory.
type Sweeper interface {
	Sweep(ctx context.Context) (scanner.Result, error)
}

// Bot owns the update loop and routes updates to the moderation engine.
type Bot struct {
	bot         telegoapi.BotAPI
	updatesChan <-chan telego.Update
	debug       bool
	groupID     int64
	engine      Engine
	batcher     Batcher
	sweeper     Sweeper
	moderators  auth.ModeratorCheckerInterface
	users       dbi.UserRepository
	localizer   *i18n.Localizer
	ratelimiter ratelimit.Limiter
}

// BotDeps holds the dependencies required by the Bot.
type BotDeps struct {
	Bot         telegoapi.BotAPI
	UpdatesChan <-chan telego.Update
	Debug       bool
	GroupID     int64
	Engine      Engine
	Batcher     Batcher
	Sweeper     Sweeper
	Moderators  auth.ModeratorCheckerInterface
	Users       dbi.UserRepository // optional
	Localizer   *i18n.Localizer    // optional
}

// New creates a new Bot instance from its dependencies.
func New(deps BotDeps) (*Bot, error) {
	if deps.Bot == nil {
		return nil, fmt.Errorf("telego bot (BotAPI) instance cannot be nil")
	}
	if deps.UpdatesChan == nil {
		return nil, fmt.Errorf("updates channel cannot be nil")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("moderation engine cannot be nil")
	}
	if deps.Batcher == nil {
		return nil, fmt.Errorf("media batcher cannot be nil")
	}
	if deps.Sweeper == nil {
		return nil, fmt.Errorf("scanner cannot be nil")
	}
	if deps.Moderators == nil {
		return nil, fmt.Errorf("moderator checker cannot be nil")
	}
	if deps.GroupID == 0 {
		return nil, fmt.Errorf("moderation group ID cannot be zero")
	}

	users := deps.Users
	if users == nil {
		users = dbi.NopLogger{}
	}
	localizer := deps.Localizer
	if localizer == nil {
		localizer = locales.DefaultLocalizer()
	}

	return &Bot{
		bot:         deps.Bot,
		updatesChan: deps.UpdatesChan,
		debug:       deps.Debug,
		groupID:     deps.GroupID,
		engine:      deps.Engine,
		batcher:     deps.Batcher,
		sweeper:     deps.Sweeper,
		moderators:  deps.Moderators,
		users:       users,
		localizer:   localizer,
		ratelimiter: ratelimit.New(updatesPerSecond),
	}, nil
}

func (b *Bot) msg(id string, data map[string]interface{}) string {
	return locales.GetMessage(b.localizer, id, data, nil)
}

// reportError logs err and sends it to Sentry unless it is an expected
// outcome of a moderator's action.
func reportError(logPrefix string, err error) {
	log.Printf("%s %v", logPrefix, err)
	if moderation.IsUserError(err) {
		return
	}
	sentry.CaptureException(fmt.Errorf("%s %w", logPrefix, err))
}

// authorize reports whether user may act. Failures of the check itself are
// reported and treated as a denial.
func (b *Bot) authorize(ctx context.Context, user telego.User, action string) bool {
	ok, err := b.moderators.IsModerator(ctx, user.ID)
	if err != nil {
		reportError(fmt.Sprintf("[Auth User:%d]", user.ID), err)
		return false
	}
	if !ok {
		return false
	}
	if err := b.users.UpdateUser(ctx, user.ID, user.Username, user.FirstName, user.LastName, true, action); err != nil {
		log.Printf("[Auth User:%d] Failed to update user: %v", user.ID, err)
	}
	return true
}

// handleCallbackQuery processes an inline button press.
func (b *Bot) handleCallbackQuery(ctx context.Context, query telego.CallbackQuery) {
	logPrefix := fmt.Sprintf("[Callback User:%d QueryID:%s]", query.From.ID, query.ID)
	if b.debug {
		log.Printf("%s Received callback query with data: %q", logPrefix, query.Data)
	}

	if !b.authorize(ctx, query.From, "callback") {
		log.Printf("%s Rejected: not a moderator", logPrefix)
		err := b.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: query.ID,
			Text:            b.msg("MsgNotModerator", nil),
			ShowAlert:       true,
		})
		if err != nil {
			log.Printf("%s Failed to answer callback: %v", logPrefix, err)
		}
		return
	}

	if err := b.engine.HandleCallback(ctx, query); err != nil {
		reportError(logPrefix+" Handler error:", err)
	}
}

// handleMessage routes a message from a person in the moderation chat.
func (b *Bot) handleMessage(ctx context.Context, message telego.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID

	switch {
	case strings.HasPrefix(message.Text, "/"):
		b.handleCommand(ctx, message)

	case len(message.Photo) > 0:
		if !b.engine.AwaitingMedia(chatID, userID) {
			if b.debug {
				log.Printf("[Photo User:%d Msg:%d] No post is waiting for photos, ignoring", userID, message.MessageID)
			}
			return
		}
		if err := b.batcher.HandleMessage(ctx, message); err != nil {
			reportError(fmt.Sprintf("[Photo User:%d Msg:%d] Batcher error:", userID, message.MessageID), err)
		}

	case message.Text != "":
		handled, err := b.engine.HandleText(ctx, message)
		if err != nil {
			reportError(fmt.Sprintf("[Text User:%d Msg:%d] Handler error:", userID, message.MessageID), err)
			return
		}
		if !handled && b.debug {
			log.Printf("[Text User:%d Msg:%d] Not an expected input, ignoring", userID, message.MessageID)
		}

	default:
		if b.debug {
			log.Printf("Ignoring unhandled message type (ID: %d)", message.MessageID)
		}
	}
}

// processUpdate routes incoming updates to the appropriate handlers.
func (b *Bot) processUpdate(ctx context.Context, update telego.Update) {
	b.ratelimiter.Take()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC recovered in processUpdate: %v\n%s", r, debug.Stack())
			sentry.CurrentHub().Recover(r)
			sentry.Flush(time.Second * 2)
		}
	}()

	processingCtx, cancel := context.WithTimeout(ctx, processingTimeout)
	defer cancel()

	switch {
	case update.Message != nil:
		message := *update.Message
		if message.From == nil || message.From.ID == auth.GroupAnonymousBotID {
			if b.debug {
				log.Printf("Ignoring message %d from chat %d without an identifiable sender", message.MessageID, message.Chat.ID)
			}
			return
		}
		if message.Chat.ID != b.groupID && !strings.HasPrefix(message.Text, "/") {
			return
		}
		b.handleMessage(processingCtx, message)

	case update.CallbackQuery != nil:
		b.handleCallbackQuery(processingCtx, *update.CallbackQuery)

	default:
		if b.debug {
			log.Printf("Ignoring unhandled update type: %+v", update)
		}
	}
}

// Start registers the bot commands and runs the update loop until ctx is
// done or the updates channel is closed.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setupCommands(ctx); err != nil {
		log.Printf("Warning: %v", err)
	}
	log.Println("Listening for updates...")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			log.Println("Context done, stopping update processing...")
			wg.Wait()
			log.Println("All update processing finished.")
			return
		case update, ok := <-b.updatesChan:
			if !ok {
				log.Println("Updates channel closed.")
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(up telego.Update) {
				defer wg.Done()
				b.processUpdate(ctx, up)
			}(update)
		}
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		log.Printf("[Bot Chat:%d] Failed to send reply: %v", chatID, err)
	}
}
