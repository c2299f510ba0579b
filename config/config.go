package config

import (
	"github.com/kelseyhightower/envconfig"
)

// App aggregates service configuration read from the environment.
type App struct {
	// DB
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	// Auth
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// HTTP
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// Outbox
	AMQPURL          string `envconfig:"AMQP_URL" default:""`
	OutboxExchange   string `envconfig:"OUTBOX_EXCHANGE" default:"stazama.events"`
	OutboxIntervalMS int    `envconfig:"OUTBOX_INTERVAL_MS" default:"2000"`
	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads configuration from environment variables.
func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
