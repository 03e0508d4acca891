package moderation

import "strings"

// Action is the event carried by an inline button.
type Action string

const (
	ActionModerate    Action = "moderate_"
	ActionDelete      Action = "delete_"
	ActionPublish     Action = "publish_post_"
	ActionEdit        Action = "edit_"
	ActionEditText    Action = "edittext_"
	ActionEditMedia   Action = "editmedia_"
	ActionAddMedia    Action = "addmedia_"
	ActionRemoveMedia Action = "removemedia_"
)

// actionsByPrefix is ordered so that no prefix is shadowed by a shorter one.
var actionsByPrefix = []Action{
	ActionPublish,
	ActionRemoveMedia,
	ActionEditMedia,
	ActionEditText,
	ActionAddMedia,
	ActionModerate,
	ActionDelete,
	ActionEdit,
}

// Token builds the callback payload for action on postID.
func Token(action Action, postID string) string {
	return string(action) + postID
}

// ParseToken splits a callback payload into its action and post id.
func ParseToken(data string) (Action, string, bool) {
	for _, action := range actionsByPrefix {
		if postID, ok := strings.CutPrefix(data, string(action)); ok && postID != "" {
			return action, postID, true
		}
	}
	return "", "", false
}
