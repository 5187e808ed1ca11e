package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tgclicker/internal/config"
	"tgclicker/internal/db"
	"tgclicker/internal/metrics"
	"tgclicker/internal/rates"
	"tgclicker/internal/tgbot"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, 5)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var source rates.Source = rates.NewProvider(cfg.RatesURL)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("parse redis url", "err", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rates will not be cached between runs", "err", err)
		}
		source = rates.NewCachedProvider(source, rates.NewRedisCache(client, "rates", cfg.CacheTTL), logger)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("telegram bot init failed", "err", err)
		os.Exit(1)
	}
	notifier := tgbot.NewNotifier(bot, db.NewSubscribers(pool), source, tgbot.NotifierOptions{
		DefaultBase:  cfg.DefaultBase,
		DefaultQuote: cfg.DefaultQuote,
		Logger:       logger.With("bot", "notifier"),
		Observer:     metrics.New(nil),
	})

	if cfg.RunOnce {
		res, err := notifier.Broadcast(ctx)
		if err != nil {
			logger.Error("broadcast failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "sent", res.Sent, "failed", res.Failed)
		return
	}

	go tgbot.Poll(ctx, tgbot.StartPolling(bot, 30), notifier, logger)
	defer bot.StopReceivingUpdates()

	ticker := time.NewTicker(cfg.NotifyEvery)
	defer ticker.Stop()

	logger.Info("worker started", "notify_every", cfg.NotifyEvery.String(), "bot", bot.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			res, err := notifier.Broadcast(ctx)
			if err != nil {
				logger.Error("broadcast failed", "err", err)
				continue
			}
			logger.Info("broadcast complete", "sent", res.Sent, "failed", res.Failed)
		}
	}
}
