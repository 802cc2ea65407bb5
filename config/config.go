package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings for the escrow service.
type Config struct {
	DatabaseURL           string        `env:"DATABASE_URL,required"`
	ListenAddr            string        `env:"LISTEN_ADDR" envDefault:":8080"`
	JWTSecret             string        `env:"JWT_SECRET,required"`
	NotifyTimeout         time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyWebhookURL      string        `env:"NOTIFY_WEBHOOK_URL"`
	DisputeResponseWindow time.Duration `env:"DISPUTE_RESPONSE_WINDOW" envDefault:"72h"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
