package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	Addr             string        `envconfig:"CLICKER_API_ADDR" default:":8080"`
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"20"`
	BotToken         string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	BotUsername      string        `envconfig:"TELEGRAM_BOT_USERNAME"`
	WebAppURL        string        `envconfig:"CLICKER_WEBAPP_URL"`
	OperatorChatID   int64         `envconfig:"OPERATOR_CHAT_ID"`
	BotPolling       bool          `envconfig:"CLICKER_BOT_POLLING" default:"false"`
	WebhookSecret    string        `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	JWTSecret        string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL         time.Duration `envconfig:"JWT_TOKEN_TTL" default:"24h"`
	InitDataMaxAge   time.Duration `envconfig:"TELEGRAM_INIT_DATA_MAX_AGE" default:"24h"`
	BoostCooldown    time.Duration `envconfig:"CLICKER_BOOST_COOLDOWN" default:"24h"`
	ClampLogoutInput bool          `envconfig:"CLICKER_CLAMP_LOGOUT_ENERGY" default:"false"`
}

type WorkerConfig struct {
	DatabaseURL  string        `envconfig:"DATABASE_URL" required:"true"`
	BotToken     string        `envconfig:"RATES_BOT_TOKEN" required:"true"`
	RatesURL     string        `envconfig:"RATES_PROVIDER_URL" default:"https://open.er-api.com/v6/latest"`
	RedisURL     string        `envconfig:"REDIS_URL"`
	CacheTTL     time.Duration `envconfig:"RATES_CACHE_TTL" default:"10m"`
	NotifyEvery  time.Duration `envconfig:"RATES_NOTIFY_EVERY" default:"1h"`
	RunOnce      bool          `envconfig:"RATES_WORKER_RUN_ONCE" default:"false"`
	DefaultBase  string        `envconfig:"RATES_DEFAULT_BASE" default:"USD"`
	DefaultQuote string        `envconfig:"RATES_DEFAULT_QUOTE" default:"EUR"`
}

type CLIConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	BotUsername string `envconfig:"TELEGRAM_BOT_USERNAME"`
	DBMaxConns  int32  `envconfig:"CLICKCTL_DB_MAX_CONNS" default:"4"`
}

// LoadAPIFromEnv reads the API configuration. PORT, when set, overrides the
// listen address.
func LoadAPIFromEnv() (APIConfig, error) {
	loadDotEnv()
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	cfg.WebAppURL = strings.TrimRight(strings.TrimSpace(cfg.WebAppURL), "/")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return cfg, errors.New("JWT_SECRET must be at least 16 bytes")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadDotEnv()
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RatesURL = strings.TrimRight(strings.TrimSpace(cfg.RatesURL), "/")
	cfg.DefaultBase = strings.ToUpper(strings.TrimSpace(cfg.DefaultBase))
	cfg.DefaultQuote = strings.ToUpper(strings.TrimSpace(cfg.DefaultQuote))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.NotifyEvery <= 0 {
		return cfg, errors.New("RATES_NOTIFY_EVERY must be positive")
	}
	return cfg, nil
}

// LoadCLIFromEnv leaves DATABASE_URL optional since it can come from a flag.
func LoadCLIFromEnv() (CLIConfig, error) {
	loadDotEnv()
	var cfg CLIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	if cfg.DBMaxConns <= 0 {
		return cfg, errors.New("CLICKCTL_DB_MAX_CONNS must be positive")
	}
	return cfg, nil
}

// loadDotEnv loads .env (or the file named by CLICKER_ENV_FILE) without
// overriding variables already present in the environment.
func loadDotEnv() {
	path := strings.TrimSpace(os.Getenv("CLICKER_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
