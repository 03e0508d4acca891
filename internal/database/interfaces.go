package database

import (
	"context"

	"moderation-bot/internal/database/models"
)

// PostLogger defines the interface for logging published posts.
type PostLogger interface {
	// LogPublishedPost logs information about a post delivered to both channels.
	LogPublishedPost(log models.PostLog) error
}

// UserActionLogger defines the interface for logging moderator actions.
type UserActionLogger interface {
	// LogUserAction logs an action performed by a user.
	LogUserAction(userID int64, action string, details interface{}) error
}

// UserRepository defines the interface for moderator profile updates.
type UserRepository interface {
	// UpdateUser updates or creates a user record in the database.
	UpdateUser(ctx context.Context, userID int64, username, firstName, lastName string, isAdmin bool, action string) error
}

// AuditLogger is everything the moderation engine records about its users and posts.
type AuditLogger interface {
	PostLogger
	UserActionLogger
	UserRepository
}
