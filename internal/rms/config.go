package rms

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries process-level RMS defaults: the exchange timezone
// used for the trading-day boundary (default Asia/Kolkata) and the
// enforcement cadence.
type Config struct {
	ExchangeTimezone  string `envconfig:"EXCHANGE_TIMEZONE" default:"Asia/Kolkata"`
	EnforcementPeriod string `envconfig:"RMS_ENFORCEMENT_PERIOD" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
