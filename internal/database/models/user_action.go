package models

import "time"

// UserAction is one moderator action: a button press or an edit input.
type UserAction struct {
	UserID  int64       `bson:"user_id"`
	Action  string      `bson:"action"`
	Details interface{} `bson:"details,omitempty"`
	Time    time.Time   `bson:"time"`
}
