package server

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port            string        `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`

	// RmsOverridesPath, when set, starts the fsnotify watcher that
	// hot-applies per-user RMS guardrail overrides from a local file.
	RmsOverridesPath string `envconfig:"RMS_OVERRIDES_PATH" default:""`

	// SystemdNotify controls the sd_notify readiness ping when running
	// under a systemd unit with Type=notify.
	SystemdNotify bool `envconfig:"SYSTEMD_NOTIFY" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
