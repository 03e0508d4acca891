package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"moderation-bot/internal/storage"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// sendAlbum delivers the photos at paths in order, with caption on the first
// item only. Albums above the transport limit are split; a lone photo goes out
// as a plain photo message and no photos at all as a text message.
func (e *Engine) sendAlbum(ctx context.Context, chatID int64, paths []string, caption string) ([]int, error) {
	if len(paths) == 0 {
		msg, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), caption).WithParseMode(telego.ModeHTML))
		if err != nil {
			return nil, fmt.Errorf("failed to send text to %d: %w", chatID, err)
		}
		return []int{msg.MessageID}, nil
	}

	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		files = append(files, f)
	}

	var ids []int
	for start := 0; start < len(files); start += MaxPhotos {
		end := min(start+MaxPhotos, len(files))
		chunk := files[start:end]
		chunkCaption := ""
		if start == 0 {
			chunkCaption = caption
		}

		if len(chunk) == 1 {
			msg, err := e.bot.SendPhoto(ctx, &telego.SendPhotoParams{
				ChatID:    tu.ID(chatID),
				Photo:     tu.File(chunk[0]),
				Caption:   chunkCaption,
				ParseMode: telego.ModeHTML,
			})
			if err != nil {
				return ids, fmt.Errorf("failed to send photo to %d: %w", chatID, err)
			}
			ids = append(ids, msg.MessageID)
			continue
		}

		media := make([]telego.InputMedia, len(chunk))
		for i, f := range chunk {
			photo := tu.MediaPhoto(tu.File(f))
			if i == 0 && chunkCaption != "" {
				photo.Caption = chunkCaption
				photo.ParseMode = telego.ModeHTML
			}
			media[i] = photo
		}
		msgs, err := e.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
			ChatID: tu.ID(chatID),
			Media:  media,
		})
		if err != nil {
			return ids, fmt.Errorf("failed to send media group to %d: %w", chatID, err)
		}
		for _, m := range msgs {
			ids = append(ids, m.MessageID)
		}
	}
	return ids, nil
}

// showMenu turns the action menu into text and keyboard in place. If the menu
// message cannot be edited a new one replaces it.
func (e *Engine) showMenu(ctx context.Context, pc *PostContext, state State, text string, keyboard *telego.InlineKeyboardMarkup) error {
	if pc.MenuMessageID != 0 {
		_, err := e.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:      tu.ID(pc.ChatID),
			MessageID:   pc.MenuMessageID,
			Text:        text,
			ReplyMarkup: keyboard,
		})
		if err == nil || isNotModified(err) {
			pc.State = state
			return nil
		}
		log.Printf("[Engine Post:%s] Failed to edit menu %d, sending a new one: %v", pc.PostID, pc.MenuMessageID, err)
	}

	menu, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(pc.ChatID), text).WithReplyMarkup(keyboard))
	if err != nil {
		return fmt.Errorf("failed to send menu for %s: %w", pc.PostID, err)
	}
	old := pc.MenuMessageID
	if old != 0 {
		e.deleteMessages(ctx, pc.ChatID, []int{old})
		pc.ServiceMessageIDs = removeID(pc.ServiceMessageIDs, old)
	}
	pc.MenuMessageID = menu.MessageID
	pc.ServiceMessageIDs = append(pc.ServiceMessageIDs, menu.MessageID)
	pc.State = state
	if err := e.persist(ctx, pc, true); err != nil {
		log.Printf("[Engine Post:%s] Failed to persist new menu id: %v", pc.PostID, err)
	}
	return nil
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func removeID(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// rebuild replaces the post in the chat: tracked media and service messages
// are deleted, the album is sent again with the current caption and a fresh
// action menu follows it. Telegram cannot edit the contents of a sent album,
// so this is how caption and photo order stay consistent after an edit.
func (e *Engine) rebuild(ctx context.Context, pc *PostContext, notice string) error {
	e.deleteMessages(ctx, pc.ChatID, pc.OriginalMedia)
	e.deleteMessages(ctx, pc.ChatID, pc.ServiceMessageIDs)
	pc.OriginalMedia = nil
	pc.ServiceMessageIDs = nil
	pc.MenuMessageID = 0

	var sendErr error
	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		sendErr = err
	} else {
		ids, err := e.sendAlbum(ctx, pc.ChatID, photoPaths(pc.Dir, photos), e.previewCaption(pc.Text()))
		pc.OriginalMedia = ids
		sendErr = err
	}

	menuText := e.msg("MsgModerateMenu", nil)
	if sendErr != nil {
		notice = e.msg("MsgErrorGeneral", nil)
	}
	if notice != "" {
		menuText = notice + "\n\n" + menuText
	}
	menu, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(pc.ChatID), menuText).WithReplyMarkup(e.moderateKeyboard(pc.PostID)))
	if err != nil {
		if perr := e.persist(ctx, pc, false); perr != nil {
			log.Printf("[Engine Post:%s] Failed to persist edit: %v", pc.PostID, perr)
		}
		return fmt.Errorf("failed to send action menu for %s: %w", pc.PostID, errors.Join(sendErr, err))
	}
	pc.MenuMessageID = menu.MessageID
	pc.ServiceMessageIDs = []int{menu.MessageID}
	pc.State = StateModerateMenu

	if err := e.persist(ctx, pc, true); err != nil {
		log.Printf("[Engine Post:%s] Failed to persist rebuilt post: %v", pc.PostID, err)
	}
	if sendErr != nil {
		return fmt.Errorf("failed to resend album for %s: %w", pc.PostID, sendErr)
	}
	log.Printf("[Engine Post:%s] Rebuilt with %d media message(s), menu %d", pc.PostID, len(pc.OriginalMedia), pc.MenuMessageID)
	return nil
}

// persist writes the session's draft text and photo list, and with
// withMessages also its message ids, in one locked update.
func (e *Engine) persist(ctx context.Context, pc *PostContext, withMessages bool) error {
	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		photos = nil
	}
	_, err = e.store.Update(ctx, pc.PostID, func(rec *storage.Record) error {
		rec.PendingText = pc.PendingText
		if photos != nil {
			rec.Photos = photos
		}
		if withMessages && pc.MenuMessageID != 0 {
			rec.MessageIDs = pc.messageIDs()
			rec.KeyboardMessageID = pc.MenuMessageID
		}
		return nil
	})
	return err
}

// deleteMessages removes messages one by one, logging and skipping failures.
func (e *Engine) deleteMessages(ctx context.Context, chatID int64, ids []int) {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		err := e.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(chatID), MessageID: id})
		if err != nil {
			log.Printf("[Engine Chat:%d] Failed to delete message %d: %v", chatID, id, err)
		}
	}
}

// notify sends a short notice that is cleaned up with the post's service messages.
func (e *Engine) notify(ctx context.Context, pc *PostContext, text string) {
	msg, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(pc.ChatID), text))
	if err != nil {
		log.Printf("[Engine Post:%s] Failed to send notice: %v", pc.PostID, err)
		return
	}
	pc.ServiceMessageIDs = append(pc.ServiceMessageIDs, msg.MessageID)
}

func (e *Engine) answer(ctx context.Context, queryID, text string, alert bool) {
	err := e.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		log.Printf("[Engine Query:%s] Failed to answer callback: %v", queryID, err)
	}
}

func (e *Engine) logAction(userID int64, action, postID string) {
	if err := e.audit.LogUserAction(userID, action, map[string]interface{}{"post_id": postID}); err != nil {
		log.Printf("[Engine Post:%s User:%d] Failed to log action %s: %v", postID, userID, action, err)
	}
}
