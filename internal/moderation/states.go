package moderation

// State is the position of a post in the moderation flow.
type State string

const (
	StatePostView            State = "post_view"
	StateModerateMenu        State = "moderate_menu"
	StateEditMenu            State = "edit_menu"
	StateEditTextWait        State = "edit_text_wait"
	StateEditMediaMenu       State = "edit_media_menu"
	StateEditMediaAddWait    State = "edit_media_add_wait"
	StateEditMediaRemoveWait State = "edit_media_remove_wait"
)

// AwaitsInput reports whether the state expects a message from the moderator
// rather than a button press.
func (s State) AwaitsInput() bool {
	switch s {
	case StateEditTextWait, StateEditMediaAddWait, StateEditMediaRemoveWait:
		return true
	}
	return false
}

// IsEdit reports whether the state belongs to one of the edit sub-flows.
func (s State) IsEdit() bool {
	switch s {
	case StateEditMenu, StateEditTextWait, StateEditMediaMenu, StateEditMediaAddWait, StateEditMediaRemoveWait:
		return true
	}
	return false
}

// allowedFrom lists the states each button may be pressed in. Back buttons reuse
// the moderate, edit and editmedia actions, so those accept deeper states too.
var allowedFrom = map[Action][]State{
	ActionModerate: {StatePostView, StateModerateMenu, StateEditMenu, StateEditTextWait,
		StateEditMediaMenu, StateEditMediaAddWait, StateEditMediaRemoveWait},
	ActionEdit:        {StateModerateMenu, StateEditMenu, StateEditTextWait, StateEditMediaMenu},
	ActionEditText:    {StateEditMenu},
	ActionEditMedia:   {StateEditMenu, StateEditMediaMenu, StateEditMediaAddWait, StateEditMediaRemoveWait},
	ActionAddMedia:    {StateEditMediaMenu},
	ActionRemoveMedia: {StateEditMediaMenu},
	ActionPublish:     {StateModerateMenu},
}

// canHandle reports whether action is valid in state. Delete is valid everywhere.
func canHandle(action Action, state State) bool {
	if action == ActionDelete {
		return true
	}
	for _, s := range allowedFrom[action] {
		if s == state {
			return true
		}
	}
	return false
}
