package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"litshelf/internal/app"
	"litshelf/internal/bot"
	"litshelf/internal/config"
	"litshelf/internal/ratelimit"
	"litshelf/internal/telegram"
	"litshelf/internal/util"
	"litshelf/pkg/conversation"
	"litshelf/pkg/notify"
	"litshelf/pkg/queue"
	"litshelf/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("litshelf stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("litshelf stopped")
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init postgres store: %w", err)
	}
	if sqlDB, err := dataStore.DB().DB(); err == nil {
		defer sqlDB.Close()
	}

	client, err := telegram.NewClient(telegram.Config{
		Token:        cfg.BotToken,
		MessageLimit: cfg.MessageLimit,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	conversations, err := newConversationStore(gctx, g, cfg, dataStore)
	if err != nil {
		return err
	}
	if closer, ok := conversations.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	notifier, err := newNotifier(gctx, cfg, client, logger)
	if err != nil {
		return err
	}
	if closer, ok := notifier.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	flowConflict, err := app.ParseFlowConflict(cfg.FlowConflict)
	if err != nil {
		return err
	}
	engine, err := app.New(app.Config{
		Store:                dataStore,
		Conversations:        conversations,
		Notifier:             notifier,
		Logger:               logger,
		MaxWorkLength:        cfg.MaxWorkLength,
		ReviewPreviewLength:  cfg.ReviewPreviewLength,
		FlowConflict:         flowConflict,
		AllowOwnerAssignment: cfg.AllowOwnerAssignment,
		RoleObserver:         client.RefreshMenu,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	routerCfg := bot.Config{
		App:            engine,
		Files:          client,
		Logger:         logger,
		MessageLimit:   cfg.MessageLimit,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if cfg.CommandRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewCommandLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.CommandRateLimitPerMinute, logger)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		defer limiter.Close()
		routerCfg.Limiter = limiter
	}
	router, err := bot.New(routerCfg)
	if err != nil {
		return err
	}

	if users, err := dataStore.ListUsers(); err != nil {
		logger.Warn("load users for command menus failed", "err", err)
	} else {
		client.SyncMenus(gctx, users)
	}

	logger.Info("litshelf polling",
		"workers", cfg.Workers,
		"conversation_store", cfg.ConversationStore,
		"notify_mode", cfg.NotifyMode,
	)
	g.Go(func() error {
		return client.Run(gctx, router, cfg.Workers, cfg.PollTimeoutSeconds())
	})
	return g.Wait()
}

func newConversationStore(ctx context.Context, g *errgroup.Group, cfg config.FileConfig, dataStore *store.GormStore) (conversation.Store, error) {
	ttl := cfg.ConversationTTL()
	switch cfg.ConversationStore {
	case "redis":
		return conversation.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, "", ttl), nil
	case "postgres":
		pg, err := conversation.NewGormStore(dataStore.DB(), ttl)
		if err != nil {
			return nil, fmt.Errorf("init conversation table: %w", err)
		}
		g.Go(func() error {
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n, err := pg.Purge(ctx); err != nil {
						slog.Warn("purge conversations failed", "err", err)
					} else if n > 0 {
						slog.Debug("purged expired conversations", "count", n)
					}
				}
			}
		})
		return pg, nil
	default:
		mem := conversation.NewMemoryStore(ttl, 0)
		g.Go(func() error {
			mem.RunSweeper(ctx, time.Minute)
			return nil
		})
		return mem, nil
	}
}

func newNotifier(ctx context.Context, cfg config.FileConfig, client *telegram.Client, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.NotifyMode {
	case "redis":
		q, err := queue.NewRedisOutbox(queue.RedisOutboxConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     streamName(cfg.NotifyStream),
			MaxRetries: cfg.NotifyMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("init notification outbox: %w", err)
		}
		outbox := notify.NewOutbox(q)
		outbox.StartDelivery(ctx, cfg.NotifyWorkers, notify.NewDirect(client, cfg.SendTimeout()), logger)
		return outbox, nil
	case "amqp":
		publisher, err := notify.NewAMQP(cfg.AMQPURL, cfg.NotifyQueue)
		if err != nil {
			return nil, fmt.Errorf("init amqp publisher: %w", err)
		}
		return publisher, nil
	default:
		return notify.NewDirect(client, cfg.SendTimeout()), nil
	}
}

func streamName(raw string) string {
	if raw == "" {
		return "litshelf:notifications"
	}
	return raw
}
