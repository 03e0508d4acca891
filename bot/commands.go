package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"moderation-bot/internal/scanner"

	"github.com/mymmrac/telego"
)

const commandCheck = "check"

// commandName extracts "check" from "/check@SomeBot now".
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name, _, _ := strings.Cut(fields[0][1:], "@")
	return strings.ToLower(name)
}

// handleCommand processes a message identified as a command.
func (b *Bot) handleCommand(ctx context.Context, message telego.Message) {
	command := commandName(message.Text)
	logPrefix := fmt.Sprintf("[Cmd:%s User:%d]", command, message.From.ID)

	switch command {
	case commandCheck:
		if !b.authorize(ctx, *message.From, "command_check") {
			log.Printf("%s Rejected: not a moderator", logPrefix)
			b.reply(ctx, message.Chat.ID, b.msg("MsgNotModerator", nil))
			return
		}
		b.handleCheck(ctx, message.Chat.ID, logPrefix)
	default:
		if b.debug {
			log.Printf("%s No handler found", logPrefix)
		}
	}
}

// handleCheck runs an immediate sweep and replies with its summary.
func (b *Bot) handleCheck(ctx context.Context, chatID int64, logPrefix string) {
	res, err := b.sweeper.Sweep(ctx)
	switch {
	case errors.Is(err, scanner.ErrBusy):
		b.reply(ctx, chatID, b.msg("MsgCheckBusy", nil))
		return
	case err != nil:
		reportError(logPrefix+" Sweep failed:", err)
		b.reply(ctx, chatID, b.msg("MsgErrorGeneral", nil))
		return
	}
	log.Printf("%s Sweep finished: %+v", logPrefix, res)
	b.reply(ctx, chatID, b.msg("MsgCheckReport", map[string]interface{}{
		"Success": res.Delivered,
		"Errors":  res.Errors,
	}))
}

func (b *Bot) setupCommands(ctx context.Context) error {
	cmds := []telego.BotCommand{
		{
			Command:     commandCheck,
			Description: b.msg("CmdCheckDescription", nil),
		},
	}
	params := &telego.SetMyCommandsParams{Commands: cmds}
	if err := b.bot.SetMyCommands(ctx, params); err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	log.Println("Bot commands successfully set.")
	return nil
}
