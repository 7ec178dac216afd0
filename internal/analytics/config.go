package analytics

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the dashboard windowing defaults.
type Config struct {
	DefaultWindowDays int `envconfig:"ANALYTICS_DEFAULT_WINDOW_DAYS" default:"7"`
	DefaultTradeLimit int `envconfig:"ANALYTICS_DEFAULT_TRADE_LIMIT" default:"20"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
