package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	telegoBot "moderation-bot/bot"
	"moderation-bot/internal/auth"
	"moderation-bot/internal/config"
	"moderation-bot/internal/database"
	"moderation-bot/internal/locales"
	"moderation-bot/internal/mediagroups"
	"moderation-bot/internal/moderation"
	"moderation-bot/internal/scanner"
	"moderation-bot/internal/storage"
	"moderation-bot/internal/transport"

	sentry "github.com/getsentry/sentry-go"
	telego "github.com/mymmrac/telego"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	locales.Init(cfg.DefaultLanguage)

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		Release:          cfg.Version,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit is optional: without Mongo the engine logs nothing beyond stdout.
	var audit database.AuditLogger = database.NopLogger{}
	if cfg.MongoDBURI != "" {
		client, db, err := database.ConnectDB(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal(err)
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Printf("Error disconnecting from MongoDB: %v", err)
				sentry.CaptureException(err)
			} else {
				log.Println("Disconnected from MongoDB.")
			}
		}()
		audit = database.NewMongoLogger(db)
	}

	var bot *telego.Bot
	if cfg.Debug {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultDebugLogger())
	} else {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, false))
	}
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create telego bot: %v", err)
	}
	api := transport.NewThrottled(bot, cfg.ChatMinInterval)

	store := storage.NewRecordStore(cfg.RecordStorePath())
	seen := storage.NewSeenCache(cfg.SeenCachePath())
	locks := storage.NewEditLock(cfg.EditLockPath())
	reconcileStorage(ctx, store, seen, locks)

	moderators, err := auth.NewModeratorChecker(api, cfg.ModeratorGroupID, cfg.ModeratorIDs)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create moderator checker: %v", err)
	}

	var cleaner moderation.TextCleaner
	if cfg.StripContacts {
		cleaner = moderation.ContactStripper{}
	}
	engine := moderation.New(moderation.Deps{
		Bot:              api,
		Store:            store,
		Seen:             seen,
		Locks:            locks,
		Downloader:       transport.NewDownloader(api),
		Audit:            audit,
		Cleaner:          cleaner,
		ModerationChatID: cfg.ModeratorGroupID,
		OpenChannelID:    cfg.PublicChannelID,
		ClosedChannelID:  cfg.PrivateChannelID,
		Signature:        cfg.ChannelSignature,
	})
	batcher := mediagroups.NewManager(engine.HandlePhotos, cfg.MediaGroupWait, moderation.MaxPhotos)
	sweeper := scanner.New(cfg.SaveDir, engine, store, seen)

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to start long polling: %v", err)
	}

	appBot, err := telegoBot.New(telegoBot.BotDeps{
		Bot:         api,
		UpdatesChan: updates,
		Debug:       cfg.Debug,
		GroupID:     cfg.ModeratorGroupID,
		Engine:      engine,
		Batcher:     batcher,
		Sweeper:     sweeper,
		Moderators:  moderators,
		Users:       audit,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx, cfg.ScanInterval)
	}()
	go func() {
		defer wg.Done()
		appBot.Start(ctx)
	}()

	<-ctx.Done()
	log.Println("Shutting down bot...")
	wg.Wait()
	batcher.Shutdown()
	log.Println("Bot shutdown complete.")
}

// reconcileStorage clears lock markers left by a crashed process and brings
// the seen cache and edit locks in line with the record store.
func reconcileStorage(ctx context.Context, store *storage.RecordStore, seen *storage.SeenCache, locks *storage.EditLock) {
	for _, l := range []*storage.FileLock{store.Lock(), locks.Lock()} {
		broken, err := l.BreakStale()
		if err != nil {
			log.Printf("[Startup] Failed to check lock %s: %v", l.Path(), err)
			continue
		}
		if broken {
			log.Printf("[Startup] Removed stale lock %s", l.Path())
		}
	}

	if n, err := seen.SyncWithStore(ctx, store); err != nil {
		log.Printf("[Startup] Failed to sync seen cache: %v", err)
		sentry.CaptureException(err)
	} else {
		log.Printf("[Startup] Seen cache holds %d post(s)", n)
	}

	if dropped, err := locks.Reconcile(ctx, store); err != nil {
		log.Printf("[Startup] Failed to reconcile edit locks: %v", err)
		sentry.CaptureException(err)
	} else if len(dropped) > 0 {
		log.Printf("[Startup] Dropped edit locks of missing posts: %v", dropped)
	}
}
