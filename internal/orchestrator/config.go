package orchestrator

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"strategyexecutor/internal/model"
)

// Config carries the per-mode run deadlines and fan-out tuning.
// The rollback deadline is deliberately the same as the mode's own run
// deadline rather than a separate, silently-chosen bound.
type Config struct {
	MaxConcurrentLegs int `envconfig:"ORCH_MAX_CONCURRENT_LEGS" default:"8"`

	ParallelDeadline   time.Duration `envconfig:"ORCH_PARALLEL_DEADLINE" default:"30s"`
	SyncDeadline       time.Duration `envconfig:"ORCH_SYNC_DEADLINE" default:"30s"`
	StaggeredDeadline  time.Duration `envconfig:"ORCH_STAGGERED_DEADLINE" default:"60s"`
	StaggerDelayMs     time.Duration `envconfig:"ORCH_STAGGER_DELAY" default:"500ms"`
	StaggerFailureCap  int           `envconfig:"ORCH_STAGGER_FAILURE_THRESHOLD" default:"2"`

	// RollbackEnabled gates sync-mode rollback-on-partial. Off by
	// default; parallel and staggered runs never roll back.
	RollbackEnabled bool `envconfig:"ORCH_ROLLBACK_ENABLED" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) deadlineFor(mode model.GroupMode) time.Duration {
	switch mode {
	case model.GroupModeSync:
		return c.SyncDeadline
	case model.GroupModeStaggered:
		return c.StaggeredDeadline
	default:
		return c.ParallelDeadline
	}
}

// rollbackDeadline returns the bound a rollback attempt must finish
// within: the same deadline the run itself was given, not a separate
// silently-invented one.
func (c Config) rollbackDeadline() time.Duration {
	return c.SyncDeadline
}

func (c Config) maxConcurrentLegs() int {
	if c.MaxConcurrentLegs <= 0 {
		return 1
	}
	return c.MaxConcurrentLegs
}

func (c Config) staggerDelay() time.Duration {
	if c.StaggerDelayMs <= 0 {
		return 500 * time.Millisecond
	}
	return c.StaggerDelayMs
}

func (c Config) staggerFailureThreshold() int {
	if c.StaggerFailureCap <= 0 {
		return 1
	}
	return c.StaggerFailureCap
}
