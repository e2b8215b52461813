package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ai-trading-server/config"
	"ai-trading-server/internal/admission"
	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/analysis"
	"ai-trading-server/internal/api"
	"ai-trading-server/internal/database"
	"ai-trading-server/internal/notification"
	"ai-trading-server/internal/pricefeed"
	"ai-trading-server/internal/tracker"
	"ai-trading-server/internal/triggers"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Msg("starting AI trading server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	repo := database.NewRepository(db)

	var cache *pricefeed.Cache
	if cfg.RedisConfig.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, price cache disabled")
		} else {
			cache = pricefeed.NewCache(rdb, 10*time.Minute, logger)
		}
	}
	oracle := pricefeed.NewFileOracle(cfg.PriceFeedConfig.Path, cfg.PriceFeedConfig.MaxAge, cache, logger)

	notifier := notification.NewManager(logger)
	if cfg.NotificationConfig.Enabled {
		notifier.AddProvider(notification.NewTelegramProvider(notification.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  cfg.NotificationConfig.Telegram.Enabled,
		}))
		notifier.AddProvider(notification.NewDiscordProvider(notification.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			Enabled:    cfg.NotificationConfig.Discord.Enabled,
		}))
	}

	llmClient := llm.NewClient(&llm.ClientConfig{
		APIKey:      cfg.AIConfig.APIKey,
		Model:       cfg.AIConfig.Model,
		MaxTokens:   cfg.AIConfig.MaxTokens,
		Temperature: cfg.AIConfig.Temperature,
		Timeout:     90 * time.Second,
	})
	if !llmClient.IsConfigured() {
		logger.Warn().Msg("AI API key not set, analysis requests will fail")
	}

	stats := analysis.NewSessionStats()

	admController := admission.NewController(repo, admission.Config{
		BlockingEnabled: cfg.TrackingConfig.BlockingEnabled,
		Cooldown:        cfg.TrackingConfig.Cooldown,
		DailyNetWinCap:  cfg.TrackingConfig.DailyNetWinCap,
		RiskyCeiling:    cfg.TrackingConfig.RiskyCeiling,
	}, logger)

	service := analysis.NewService(repo, llmClient, admController, oracle, notifier, stats, logger)

	breakeven := tracker.NewBreakevenEngine(repo, oracle, notifier, logger)
	outcome := tracker.NewOutcomeEngine(repo, oracle, notifier, logger)
	worker := tracker.NewWorker(breakeven, outcome, cfg.PriceFeedConfig.ScreenshotDir, cfg.TrackingConfig.TrackInterval, logger)
	worker.Start()
	defer worker.Stop()

	watcher := triggers.NewWatcher(repo, oracle, service, triggers.TradingHours{
		StartHour: cfg.TrackingConfig.TradingStart,
		EndHour:   cfg.TrackingConfig.TradingEnd,
	}, cfg.TrackingConfig.WatchInterval, nil, logger)
	watcher.Start()
	defer watcher.Stop()

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		Model:          cfg.AIConfig.Model,
	}, repo, service, stats, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	notifier.Send(ctx, "🚀 <b>AI Trading Server started</b>\nModel: "+cfg.AIConfig.Model)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.JSONFormat {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
}
