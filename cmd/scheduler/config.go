package scheduler

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// EnforceEvery is the cadence of the periodic RMS enforcement
	// sweep this process runs alongside the cron loop. Zero disables it.
	EnforceEvery string `envconfig:"RMS_ENFORCE_EVERY" default:"1m"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
