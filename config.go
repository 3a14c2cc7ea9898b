package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BotToken      string `envconfig:"BOT_TOKEN" required:"true"`
	BotUsername   string `envconfig:"BOT_USERNAME" required:"true"`
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`

	AdminUserIDs  string `envconfig:"ADMIN_USER_IDS"`
	DefaultLocale string `envconfig:"DEFAULT_LOCALE" default:"en"`

	RetentionDays      int `envconfig:"RETENTION_DAYS" default:"30"`
	SweepIntervalHours int `envconfig:"SWEEP_INTERVAL_HOURS" default:"24"`

	DedupCapacity   int `envconfig:"DEDUP_CAPACITY" default:"4096"`
	DedupWindowMin  int `envconfig:"DEDUP_WINDOW_MIN" default:"15"`
	NotifyWorkers   int `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyQueueSize int `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	MediaMaxMB      int `envconfig:"MEDIA_MAX_MB" default:"50"`
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c Config) MediaMaxBytes() int64 {
	return int64(c.MediaMaxMB) << 20
}
