package auth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"moderation-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
)

// GroupAnonymousBotID is the sender id Telegram uses for anonymous group admins.
// Such messages cannot be attributed to a moderator and are never trusted.
const GroupAnonymousBotID int64 = 1087968824

const defaultCacheTTL = 5 * time.Minute

// ModeratorCheckerInterface is what the update loop needs to authorize a user.
type ModeratorCheckerInterface interface {
	IsModerator(ctx context.Context, userID int64) (bool, error)
}

type cachedStatus struct {
	isModerator bool
	checkedAt   time.Time
}

// ModeratorChecker authorizes users that are listed explicitly or are
// administrators (or the creator) of the moderation group.
type ModeratorChecker struct {
	bot     telegoapi.BotAPI
	groupID int64
	allowed map[int64]struct{}
	ttl     time.Duration

	mu    sync.Mutex
	cache map[int64]cachedStatus
}

// NewModeratorChecker creates a checker for the moderation group groupID.
func NewModeratorChecker(bot telegoapi.BotAPI, groupID int64, moderatorIDs []int64) (*ModeratorChecker, error) {
	if bot == nil {
		return nil, fmt.Errorf("bot instance cannot be nil")
	}
	if groupID == 0 {
		return nil, fmt.Errorf("moderation group ID cannot be zero")
	}
	allowed := make(map[int64]struct{}, len(moderatorIDs))
	for _, id := range moderatorIDs {
		allowed[id] = struct{}{}
	}
	return &ModeratorChecker{
		bot:     bot,
		groupID: groupID,
		allowed: allowed,
		ttl:     defaultCacheTTL,
		cache:   make(map[int64]cachedStatus),
	}, nil
}

// IsModerator reports whether userID may act on posts.
func (mc *ModeratorChecker) IsModerator(ctx context.Context, userID int64) (bool, error) {
	if userID == GroupAnonymousBotID || userID == 0 {
		return false, nil
	}
	if _, ok := mc.allowed[userID]; ok {
		return true, nil
	}

	mc.mu.Lock()
	cached, ok := mc.cache[userID]
	mc.mu.Unlock()
	if ok && time.Since(cached.checkedAt) < mc.ttl {
		return cached.isModerator, nil
	}

	member, err := mc.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: telego.ChatID{ID: mc.groupID},
		UserID: userID,
	})
	if err != nil {
		// A user not found in the group is simply not a moderator.
		if strings.Contains(strings.ToLower(err.Error()), "user not found") {
			mc.remember(userID, false)
			return false, nil
		}
		log.Printf("[ModeratorCheck User:%d Group:%d] Error checking chat member: %v", userID, mc.groupID, err)
		return false, fmt.Errorf("failed to get chat member info: %w", err)
	}

	status := member.MemberStatus()
	isModerator := status == telego.MemberStatusCreator || status == telego.MemberStatusAdministrator
	mc.remember(userID, isModerator)
	return isModerator, nil
}

func (mc *ModeratorChecker) remember(userID int64, isModerator bool) {
	mc.mu.Lock()
	mc.cache[userID] = cachedStatus{isModerator: isModerator, checkedAt: time.Now()}
	mc.mu.Unlock()
}
