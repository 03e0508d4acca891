package moderation

import (
	"context"
	"fmt"
	"log"
	"os"

	"moderation-bot/internal/mediagroups"

	"github.com/mymmrac/telego"
)

// HandlePhotos appends a finished batch of photos to the post its sender is
// adding media to. It is the process function of the media batcher.
func (e *Engine) HandlePhotos(ctx context.Context, key mediagroups.Key, messages []telego.Message) error {
	if len(messages) == 0 {
		return nil
	}
	chatID := messages[0].Chat.ID
	target, ok := e.sessions.inputFor(chatID, key.ActorID)
	if !ok || target.state != StateEditMediaAddWait {
		log.Printf("[Engine Batch:%s] No post is waiting for photos from this user, %d message(s) ignored", key, len(messages))
		return nil
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	unlock := e.sessions.lockPost(target.postID)
	defer unlock()

	pc, ok := e.sessions.get(target.postID)
	if !ok || pc.State != StateEditMediaAddWait {
		return nil
	}
	if err := e.guard(ctx, pc, key.ActorID, true); err != nil {
		e.rejectInput(ctx, pc, err)
		return err
	}

	var fileIDs []string
	for _, m := range messages {
		pc.trackUserMessage(m.MessageID)
		if len(m.Photo) > 0 {
			fileIDs = append(fileIDs, m.Photo[len(m.Photo)-1].FileID)
		}
	}
	if len(fileIDs) == 0 {
		return nil
	}

	photos, err := ListPhotos(pc.Dir)
	if err != nil {
		return err
	}
	remaining := MaxPhotos - len(photos)
	if remaining <= 0 {
		e.notify(ctx, pc, e.msg("MsgAddMediaFull", map[string]interface{}{"Max": MaxPhotos}))
		return nil
	}
	dropped := 0
	if len(fileIDs) > remaining {
		dropped = len(fileIDs) - remaining
		fileIDs = fileIDs[:remaining]
	}

	paths := NextPhotoPaths(pc.Dir, len(photos), len(fileIDs))
	for i, fileID := range fileIDs {
		if err := e.downloader.Download(ctx, fileID, paths[i]); err != nil {
			for _, p := range paths[:i] {
				_ = os.Remove(p)
			}
			e.notify(ctx, pc, e.msg("MsgErrorGeneral", nil))
			return fmt.Errorf("failed to download photo for %s: %w", pc.PostID, err)
		}
	}
	e.sessions.clearInput(pc.PostID)

	notice := e.msg("MsgMediaAdded", nil)
	if dropped > 0 {
		notice += "\n" + e.msg("MsgAddMediaDropped", map[string]interface{}{"Count": dropped})
	}
	e.logAction(key.ActorID, "add_media_applied", pc.PostID)
	log.Printf("[Engine Post:%s User:%d] Added %d photo(s), %d dropped", pc.PostID, key.ActorID, len(fileIDs), dropped)
	return e.rebuild(ctx, pc, notice)
}
