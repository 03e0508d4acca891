package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSignature = "\n\nДля более подробной информации: @PedalGaza_tg"

// Config holds the application configuration.
type Config struct {
	AppEnv    string
	Debug     bool
	Version   string
	BotToken  string
	SentryDSN string

	ModeratorGroupID int64
	PublicChannelID  int64
	PrivateChannelID int64
	ModeratorIDs     []int64

	SaveDir          string
	DataDir          string
	ScanInterval     time.Duration
	MediaGroupWait   time.Duration
	ChatMinInterval  time.Duration
	ChannelSignature string
	StripContacts    bool
	DefaultLanguage  string

	MongoDBURI      string
	MongoDBDatabase string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present but prioritizes
// actual environment variables set in the system (e.g., by Docker).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	debug, _ := strconv.ParseBool(getEnv("DEBUG", "false"))
	stripContacts, err := strconv.ParseBool(getEnv("STRIP_CONTACTS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid STRIP_CONTACTS: %w", err)
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Debug:            debug,
		Version:          getEnv("VERSION", "dev"),
		BotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		SaveDir:          getEnv("SAVE_DIR", "./saved"),
		DataDir:          getEnv("DATA_DIR", "./data"),
		ChannelSignature: getEnv("CHANNEL_SIGNATURE", defaultSignature),
		StripContacts:    stripContacts,
		DefaultLanguage:  getEnv("DEFAULT_LANGUAGE", "ru"),
		MongoDBURI:       getEnv("MONGODB_URI", ""),
		MongoDBDatabase:  getEnv("MONGODB_DATABASE", ""),
	}

	if cfg.ModeratorGroupID, err = requireInt64("MODERATOR_GROUP_ID"); err != nil {
		return nil, err
	}
	if cfg.PublicChannelID, err = requireInt64("PUBLIC_CHANNEL_ID"); err != nil {
		return nil, err
	}
	if cfg.PrivateChannelID, err = requireInt64("PRIVATE_CHANNEL_ID"); err != nil {
		return nil, err
	}
	if cfg.ModeratorIDs, err = parseIDList(getEnv("MODERATOR_IDS", "")); err != nil {
		return nil, fmt.Errorf("invalid MODERATOR_IDS: %w", err)
	}
	if cfg.ScanInterval, err = parseDuration("SCAN_INTERVAL", "20s"); err != nil {
		return nil, err
	}
	if cfg.MediaGroupWait, err = parseDuration("MEDIA_GROUP_TIMEOUT", "9s"); err != nil {
		return nil, err
	}
	if cfg.ChatMinInterval, err = parseDuration("CHAT_MIN_INTERVAL", "1s"); err != nil {
		return nil, err
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}
	if cfg.MongoDBURI != "" && cfg.MongoDBDatabase == "" {
		return nil, fmt.Errorf("MONGODB_DATABASE is required when MONGODB_URI is set")
	}
	if cfg.MongoDBURI == "" {
		log.Println("Warning: MONGODB_URI is not set. Publish audit disabled.")
	}

	return cfg, nil
}

// RecordStorePath is the JSON ledger of all known posts.
func (c *Config) RecordStorePath() string {
	return filepath.Join(c.DataDir, "storage.json")
}

// SeenCachePath is the idempotence cache file.
func (c *Config) SeenCachePath() string {
	return filepath.Join(c.DataDir, "sent_posts_cache.json")
}

// EditLockPath is the per-post moderator lock file.
func (c *Config) EditLockPath() string {
	return filepath.Join(c.DataDir, "moderation_block.json")
}

func requireInt64(key string) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
