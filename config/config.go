// Package config loads server configuration from config.json with
// environment variable overrides. Environment values take precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	PriceFeedConfig    PriceFeedConfig    `json:"price_feed"`
	AIConfig           AIConfig           `json:"ai"`
	NotificationConfig NotificationConfig `json:"notification"`
	TrackingConfig     TrackingConfig     `json:"tracking"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the optional last-price cache configuration.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type PriceFeedConfig struct {
	// Path is the JSON file the chart capture side keeps current.
	Path string `json:"path"`
	// MaxAge is how old the feed file may be before prices count as stale.
	MaxAge time.Duration `json:"max_age"`
	// ScreenshotDir is where uploaded chart images live.
	ScreenshotDir string `json:"screenshot_dir"`
}

type AIConfig struct {
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// TrackingConfig tunes the lifecycle engines and admission gates.
type TrackingConfig struct {
	TrackInterval   time.Duration `json:"track_interval"`
	WatchInterval   time.Duration `json:"watch_interval"`
	BlockingEnabled bool          `json:"blocking_enabled"`
	Cooldown        time.Duration `json:"cooldown"`
	DailyNetWinCap  int           `json:"daily_net_win_cap"`
	RiskyCeiling    int           `json:"risky_ceiling"`
	TradingStart    int           `json:"trading_start_hour"`
	TradingEnd      int           `json:"trading_end_hour"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = newDefaults()
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// newDefaults seeds the flags that default to on. Unmarshalling a config
// file over this keeps an absent key at its default while an explicit
// false still takes effect.
func newDefaults() *Config {
	cfg := &Config{}
	cfg.TrackingConfig.BlockingEnabled = true
	cfg.LoggingConfig.JSONFormat = true
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 5000))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolString(cfg.ServerConfig.ProductionMode)) == "true"

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "trading"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "trading_signals"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.PriceFeedConfig.Path = getEnvOrDefault("PRICE_FEED_PATH", defaultString(cfg.PriceFeedConfig.Path, "price_feed.json"))
	cfg.PriceFeedConfig.MaxAge = getEnvDurationOrDefault("PRICE_FEED_MAX_AGE", defaultDuration(cfg.PriceFeedConfig.MaxAge, 5*time.Minute))
	cfg.PriceFeedConfig.ScreenshotDir = getEnvOrDefault("SCREENSHOT_DIR", defaultString(cfg.PriceFeedConfig.ScreenshotDir, "screenshots"))

	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", defaultString(cfg.AIConfig.Model, "claude-sonnet-4-20250514"))
	cfg.AIConfig.MaxTokens = getEnvIntOrDefault("AI_MAX_TOKENS", defaultInt(cfg.AIConfig.MaxTokens, 2048))
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", defaultFloat(cfg.AIConfig.Temperature, 0.3))

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolString(cfg.NotificationConfig.Telegram.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", boolString(cfg.NotificationConfig.Discord.Enabled)) == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	cfg.TrackingConfig.TrackInterval = getEnvDurationOrDefault("TRACK_INTERVAL", defaultDuration(cfg.TrackingConfig.TrackInterval, 60*time.Second))
	cfg.TrackingConfig.WatchInterval = getEnvDurationOrDefault("TRIGGER_WATCH_INTERVAL", defaultDuration(cfg.TrackingConfig.WatchInterval, 120*time.Second))
	cfg.TrackingConfig.BlockingEnabled = getEnvOrDefault("SIGNAL_BLOCKING_ENABLED", boolString(cfg.TrackingConfig.BlockingEnabled)) == "true"
	cfg.TrackingConfig.Cooldown = getEnvDurationOrDefault("SYMBOL_COOLDOWN", defaultDuration(cfg.TrackingConfig.Cooldown, time.Hour))
	cfg.TrackingConfig.DailyNetWinCap = getEnvIntOrDefault("DAILY_NET_WIN_CAP", defaultInt(cfg.TrackingConfig.DailyNetWinCap, 3))
	cfg.TrackingConfig.RiskyCeiling = getEnvIntOrDefault("RISKY_TRADE_CEILING", defaultInt(cfg.TrackingConfig.RiskyCeiling, 3))
	cfg.TrackingConfig.TradingStart = getEnvIntOrDefault("TRADING_START_HOUR", defaultInt(cfg.TrackingConfig.TradingStart, 6))
	cfg.TrackingConfig.TradingEnd = getEnvIntOrDefault("TRADING_END_HOUR", defaultInt(cfg.TrackingConfig.TradingEnd, 20))

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newDefaults()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return config, nil
}

func defaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func defaultFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return def
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
