package moderation

import (
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

func (e *Engine) button(msgID string, action Action, postID string) telego.InlineKeyboardButton {
	return tu.InlineKeyboardButton(e.msg(msgID, nil)).WithCallbackData(Token(action, postID))
}

func (e *Engine) postViewKeyboard(postID string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			e.button("BtnModerate", ActionModerate, postID),
			e.button("BtnDelete", ActionDelete, postID),
		),
	)
}

func (e *Engine) moderateKeyboard(postID string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(e.button("BtnPublish", ActionPublish, postID)),
		tu.InlineKeyboardRow(
			e.button("BtnEdit", ActionEdit, postID),
			e.button("BtnDelete", ActionDelete, postID),
		),
	)
}

func (e *Engine) editKeyboard(postID string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			e.button("BtnEditText", ActionEditText, postID),
			e.button("BtnEditMedia", ActionEditMedia, postID),
		),
		tu.InlineKeyboardRow(e.button("BtnBack", ActionModerate, postID)),
	)
}

func (e *Engine) mediaKeyboard(postID string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			e.button("BtnAddMedia", ActionAddMedia, postID),
			e.button("BtnRemoveMedia", ActionRemoveMedia, postID),
		),
		tu.InlineKeyboardRow(e.button("BtnBack", ActionEdit, postID)),
	)
}

// backKeyboard is attached to input prompts so the moderator can leave a wait state.
func (e *Engine) backKeyboard(action Action, postID string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(tu.InlineKeyboardRow(e.button("BtnBack", action, postID)))
}
