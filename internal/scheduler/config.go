package scheduler

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the scheduler/webhook timing defaults.
type Config struct {
	TickPeriod               string `envconfig:"SCHEDULER_TICK_PERIOD" default:"1s"`
	WebhookIdempotencyWindow string `envconfig:"WEBHOOK_IDEMPOTENCY_WINDOW" default:"60s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
