package moderation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"os"
	"path/filepath"
	"strings"

	"moderation-bot/internal/database/models"
	"moderation-bot/internal/storage"
	"moderation-bot/internal/textlimit"

	"github.com/getsentry/sentry-go"
	tu "github.com/mymmrac/telego/telegoutil"
)

const closedTextFile = "text_close.txt"

// sourceAttribution returns the first two lines of the source info.
func sourceAttribution(source string) string {
	lines := strings.SplitN(strings.TrimSpace(source), "\n", 3)
	if len(lines) > 2 {
		lines = lines[:2]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// captions renders the approved text for the open and the closed channel.
func (e *Engine) captions(ctx context.Context, pc *PostContext) (string, string, error) {
	body := pc.Text()

	openBody := body
	if e.cleaner != nil {
		cleaned, err := e.cleaner.Clean(ctx, body)
		if err != nil {
			return "", "", fmt.Errorf("failed to clean text of %s: %w", pc.PostID, err)
		}
		openBody = cleaned
	}
	open, _ := textlimit.Fit(openBody, textlimit.CaptionLimit, e.signature, textlimit.TruncationMarker)

	closedBody := pc.PendingText
	if closedBody == "" {
		closedBody = e.closedText(pc)
	}
	var closed string
	if attribution := sourceAttribution(pc.Source); attribution != "" {
		closed, _ = textlimit.FitWithPreservedSuffix(closedBody, html.EscapeString(attribution), textlimit.CaptionLimit, textlimit.TruncationMarker)
	} else {
		closed, _ = textlimit.Fit(closedBody, textlimit.CaptionLimit, "", textlimit.TruncationMarker)
	}
	return open, closed, nil
}

// closedText reads the full text prepared for the closed channel, falling back
// to the moderated text when the intake item has none.
func (e *Engine) closedText(pc *PostContext) string {
	data, err := os.ReadFile(filepath.Join(pc.Dir, closedTextFile))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Engine Post:%s] Failed to read %s: %v", pc.PostID, closedTextFile, err)
		}
		return pc.OriginalText
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return pc.OriginalText
	}
	return html.EscapeString(text)
}

// publish delivers the post to the open channel and, only once that
// succeeded, to the closed channel. Any failure leaves the record sent and the
// edit lock held so the moderator can retry.
func (e *Engine) publish(ctx context.Context, pc *PostContext, userID int64) error {
	if pc.Published {
		log.Printf("[Engine Post:%s] Already published, finishing cleanup", pc.PostID)
		return e.purge(ctx, pc, e.msg("MsgPublished", nil))
	}

	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		return err
	}
	paths := photoPaths(pc.Dir, photos)
	openCaption, closedCaption, err := e.captions(ctx, pc)
	if err != nil {
		return err
	}

	openIDs, err := e.sendAlbum(ctx, e.openChannelID, paths, openCaption)
	if err != nil {
		return fmt.Errorf("open channel delivery of %s: %w", pc.PostID, err)
	}
	closedIDs, err := e.sendAlbum(ctx, e.closedChannelID, paths, closedCaption)
	if err != nil {
		return fmt.Errorf("closed channel delivery of %s: %w", pc.PostID, err)
	}

	pc.Published = true
	if err := e.store.SetStatus(ctx, pc.PostID, storage.StatusPublished); err != nil {
		log.Printf("[Engine Post:%s] Failed to mark published: %v", pc.PostID, err)
		sentry.CaptureException(fmt.Errorf("mark %s published: %w", pc.PostID, err))
	}

	entry := models.PostLog{
		PostID:           pc.PostID,
		ModeratorID:      userID,
		Caption:          openCaption,
		Source:           pc.Source,
		Edited:           pc.PendingText != "",
		PhotoCount:       len(photos),
		ReceivedAt:       pc.CreatedAt,
		PublishedAt:      e.now(),
		OpenChannelID:    e.openChannelID,
		OpenMessageIDs:   openIDs,
		ClosedChannelID:  e.closedChannelID,
		ClosedMessageIDs: closedIDs,
	}
	if err := e.audit.LogPublishedPost(entry); err != nil {
		log.Printf("[Engine Post:%s] Failed to log publication: %v", pc.PostID, err)
	}

	log.Printf("[Engine Post:%s User:%d] Published: open %v, closed %v", pc.PostID, userID, openIDs, closedIDs)
	return e.purge(ctx, pc, e.msg("MsgPublished", nil))
}

// purge removes every trace of a finished post: its record and edit lock, its
// directory, its messages in the moderation chat, and the session. The record
// goes first; while it exists the post, its files and its menu stay in place
// so the purge can be retried.
func (e *Engine) purge(ctx context.Context, pc *PostContext, notice string) error {
	if _, err := e.store.Delete(ctx, pc.PostID); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", pc.PostID, err)
	}

	var errs []error
	if err := e.locks.Release(ctx, pc.PostID); err != nil {
		// an orphaned lock is dropped by Reconcile on the next start
		errs = append(errs, fmt.Errorf("failed to release edit lock of %s: %w", pc.PostID, err))
	}

	if pc.Dir != "" {
		if err := os.RemoveAll(pc.Dir); err != nil {
			log.Printf("[Engine Post:%s] Failed to remove %s: %v", pc.PostID, pc.Dir, err)
			sentry.CaptureException(fmt.Errorf("remove dir of %s: %w", pc.PostID, err))
		}
	}

	e.deleteMessages(ctx, pc.ChatID, pc.OriginalMedia)
	e.deleteMessages(ctx, pc.ChatID, pc.ServiceMessageIDs)
	e.deleteMessages(ctx, pc.ChatID, pc.UserMessageIDs)
	e.sessions.drop(pc.PostID)

	if notice != "" {
		if _, err := e.bot.SendMessage(ctx, tu.Message(tu.ID(pc.ChatID), notice)); err != nil {
			log.Printf("[Engine Post:%s] Failed to send completion notice: %v", pc.PostID, err)
		}
	}
	log.Printf("[Engine Post:%s] Purged", pc.PostID)
	return errors.Join(errs...)
}
