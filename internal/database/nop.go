package database

import (
	"context"

	"moderation-bot/internal/database/models"
)

// NopLogger discards everything. It is used when MongoDB is not configured.
type NopLogger struct{}

func (NopLogger) LogPublishedPost(models.PostLog) error { return nil }

func (NopLogger) LogUserAction(int64, string, interface{}) error { return nil }

func (NopLogger) UpdateUser(context.Context, int64, string, string, string, bool, string) error {
	return nil
}
