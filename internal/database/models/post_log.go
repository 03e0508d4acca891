package models

import "time"

// PostLog stores information about a post published to both channels.
type PostLog struct {
	PostID           string    `bson:"post_id"`
	ModeratorID      int64     `bson:"moderator_id"`
	Caption          string    `bson:"caption,omitempty"`
	Source           string    `bson:"source,omitempty"`
	Edited           bool      `bson:"edited"`
	PhotoCount       int       `bson:"photo_count"`
	ReceivedAt       time.Time `bson:"received_at"`
	PublishedAt      time.Time `bson:"published_at"`
	OpenChannelID    int64     `bson:"open_channel_id"`
	OpenMessageIDs   []int     `bson:"open_message_ids"`
	ClosedChannelID  int64     `bson:"closed_channel_id"`
	ClosedMessageIDs []int     `bson:"closed_message_ids"`
}
