package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tgclicker/internal/api"
	"tgclicker/internal/auth"
	"tgclicker/internal/config"
	"tgclicker/internal/db"
	"tgclicker/internal/game"
	"tgclicker/internal/metrics"
	"tgclicker/internal/tgbot"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	recorder := metrics.New(nil)
	opts := []game.Option{
		game.WithLogger(logger),
		game.WithObserver(recorder),
		game.WithBoostCooldown(cfg.BoostCooldown),
	}
	if cfg.ClampLogoutInput {
		opts = append(opts, game.WithLogoutPolicy(game.ClampEnergyPolicy{}))
	}
	gameSvc := game.NewService(db.NewLedger(pool), game.DefaultPricing, game.DefaultEnergy, opts...)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("token issuer init failed", "err", err)
		os.Exit(1)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("telegram bot init failed", "err", err)
		os.Exit(1)
	}
	clicker := tgbot.NewClicker(bot, gameSvc, cfg.WebAppURL, logger.With("bot", "clicker"), recorder)

	serverOpts := []api.Option{}
	if cfg.OperatorChatID != 0 {
		serverOpts = append(serverOpts, api.WithContactSink(tgbot.NewContactForwarder(bot, cfg.OperatorChatID)))
	}
	if cfg.BotPolling {
		go tgbot.Poll(ctx, tgbot.StartPolling(bot, 30), clicker, logger)
		logger.Info("clicker bot polling", "bot", bot.Self.UserName)
	} else {
		serverOpts = append(serverOpts, api.WithWebhook(clicker, cfg.WebhookSecret))
	}

	server := api.New(cfg, logger, tokens, gameSvc, serverOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if cfg.BotPolling {
			bot.StopReceivingUpdates()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("clicker api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
