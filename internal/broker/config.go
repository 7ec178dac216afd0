package broker

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the process-level defaults for adapter deadlines
// (place 5s, metadata 2s by default).
type Config struct {
	PlaceDeadline    time.Duration `envconfig:"BROKER_PLACE_DEADLINE" default:"5s"`
	MetadataDeadline time.Duration `envconfig:"BROKER_METADATA_DEADLINE" default:"2s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) Deadlines() Deadlines {
	return Deadlines{Place: c.PlaceDeadline, Metadata: c.MetadataDeadline}
}
