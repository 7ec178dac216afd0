package strategyrunner

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the error-budget defaults: more than MaxErrors
// failures inside ErrorWindow stop the Strategy.
type Config struct {
	MaxErrors        int    `envconfig:"STRATEGY_MAX_ERRORS" default:"5"`
	ErrorWindow      string `envconfig:"STRATEGY_ERROR_WINDOW" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
