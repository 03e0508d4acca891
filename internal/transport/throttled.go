package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"moderation-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	"golang.org/x/time/rate"
)

// DefaultRetryWait is used when a rate limit or timeout carries no retry hint.
const DefaultRetryWait = 2 * time.Second

// Throttled decorates a BotAPI: calls addressed to a chat are spaced by at
// least the configured interval per chat, and a call failing with a rate limit
// or a timeout is retried exactly once after the server-signaled (or default) wait.
type Throttled struct {
	api      telegoapi.BotAPI
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

var _ telegoapi.BotAPI = (*Throttled)(nil)

// NewThrottled wraps api with per-chat spacing of interval.
func NewThrottled(api telegoapi.BotAPI, interval time.Duration) *Throttled {
	return &Throttled{
		api:      api,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func chatKey(id telego.ChatID) string {
	if id.ID != 0 {
		return strconv.FormatInt(id.ID, 10)
	}
	return id.Username
}

func (t *Throttled) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[key] = l
	}
	return l
}

func (t *Throttled) wait(ctx context.Context, chat telego.ChatID) error {
	if t.interval <= 0 {
		return nil
	}
	return t.limiter(chatKey(chat)).Wait(ctx)
}

// do runs call with chat spacing and a single retry.
func (t *Throttled) do(ctx context.Context, method string, chat *telego.ChatID, beforeRetry func(), call func() error) error {
	for attempt := 1; ; attempt++ {
		if chat != nil {
			if err := t.wait(ctx, *chat); err != nil {
				return fmt.Errorf("%s: waiting for chat slot: %w", method, err)
			}
		}

		err := call()
		if err == nil {
			return nil
		}
		wait, retryable := RetryAfter(err)
		if !retryable || attempt > 1 {
			return err
		}

		log.Printf("[Transport Method:%s] Retryable failure, retrying once in %v: %v", method, wait, err)
		if serr := t.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w (retry aborted: %v)", method, err, serr)
		}
		if beforeRetry != nil {
			beforeRetry()
		}
	}
}

// RetryAfter reports whether err is worth one retry and how long to wait first.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *ta.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode != 429 {
			return 0, false
		}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			return time.Duration(apiErr.Parameters.RetryAfter) * time.Second, true
		}
		return DefaultRetryWait, true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
		if seconds, ok := parseRetryAfter(errStr); ok {
			return time.Duration(seconds) * time.Second, true
		}
		return DefaultRetryWait, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return DefaultRetryWait, true
	}
	return 0, false
}

// parseRetryAfter extracts the retry duration from an error string ending in "retry after N".
func parseRetryAfter(errorString string) (int, bool) {
	fields := strings.Fields(errorString)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] != "after" {
			continue
		}
		retryAfter, err := strconv.Atoi(strings.Trim(fields[i+1], ".,;)\"'"))
		if err == nil && retryAfter > 0 {
			return retryAfter, true
		}
	}
	return 0, false
}

// rewindMedia seeks every uploaded file back to its start so a retried
// request sends the same bytes again.
func rewindMedia(files ...telego.InputFile) {
	for _, f := range files {
		if f.File == nil {
			continue
		}
		if s, ok := f.File.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				log.Printf("[Transport] Failed to rewind %s: %v", f.File.Name(), err)
			}
		}
	}
}

func mediaFiles(media []telego.InputMedia) []telego.InputFile {
	files := make([]telego.InputFile, 0, len(media))
	for _, m := range media {
		switch v := m.(type) {
		case *telego.InputMediaPhoto:
			files = append(files, v.Media)
		case *telego.InputMediaVideo:
			files = append(files, v.Media)
		case *telego.InputMediaDocument:
			files = append(files, v.Media)
		}
	}
	return files
}

func (t *Throttled) GetMe(ctx context.Context) (*telego.User, error) {
	return t.api.GetMe(ctx)
}

func (t *Throttled) SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error {
	return t.do(ctx, "setMyCommands", nil, nil, func() error {
		return t.api.SetMyCommands(ctx, params)
	})
}

func (t *Throttled) GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error) {
	var member telego.ChatMember
	err := t.do(ctx, "getChatMember", nil, nil, func() error {
		var err error
		member, err = t.api.GetChatMember(ctx, params)
		return err
	})
	return member, err
}

func (t *Throttled) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	var msg *telego.Message
	err := t.do(ctx, "sendMessage", &params.ChatID, nil, func() error {
		var err error
		msg, err = t.api.SendMessage(ctx, params)
		return err
	})
	return msg, err
}

func (t *Throttled) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	var msg *telego.Message
	err := t.do(ctx, "editMessageText", &params.ChatID, nil, func() error {
		var err error
		msg, err = t.api.EditMessageText(ctx, params)
		return err
	})
	return msg, err
}

func (t *Throttled) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	var msg *telego.Message
	err := t.do(ctx, "sendPhoto", &params.ChatID, func() { rewindMedia(params.Photo) }, func() error {
		var err error
		msg, err = t.api.SendPhoto(ctx, params)
		return err
	})
	return msg, err
}

func (t *Throttled) SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error) {
	var msgs []telego.Message
	err := t.do(ctx, "sendMediaGroup", &params.ChatID, func() { rewindMedia(mediaFiles(params.Media)...) }, func() error {
		var err error
		msgs, err = t.api.SendMediaGroup(ctx, params)
		return err
	})
	return msgs, err
}

func (t *Throttled) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return t.do(ctx, "deleteMessage", &params.ChatID, nil, func() error {
		return t.api.DeleteMessage(ctx, params)
	})
}

func (t *Throttled) AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error {
	return t.do(ctx, "answerCallbackQuery", nil, nil, func() error {
		return t.api.AnswerCallbackQuery(ctx, params)
	})
}

func (t *Throttled) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	var f *telego.File
	err := t.do(ctx, "getFile", nil, nil, func() error {
		var err error
		f, err = t.api.GetFile(ctx, params)
		return err
	})
	return f, err
}

func (t *Throttled) FileDownloadURL(filepath string) string {
	return t.api.FileDownloadURL(filepath)
}
