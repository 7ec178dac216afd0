// Package seed applies a YAML fixture document to the database:
// users, execution groups, RMS configs, strategies and webhook
// connectors for local development.
package seed

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/database"
	"strategyexecutor/internal/repository"
	"strategyexecutor/internal/seed"
)

type Seeder struct {
	Path string
}

func (s *Seeder) Start() error {
	log := logger.WithField("cmd", "seed")

	doc, err := seed.Load(s.Path)
	if err != nil {
		return fmt.Errorf("seed: load %s: %w", s.Path, err)
	}

	dbCfg := database.GetConfig()
	mainDB := database.InitMainDB(dbCfg, log)

	stores := seed.Stores{
		Users:      repository.NewUserRepository(mainDB, log),
		Groups:     repository.NewExecutionGroupRepository(mainDB, log),
		RmsConfigs: repository.NewRmsRepository(mainDB, log),
		Strategies: repository.NewStrategyRepository(mainDB, log),
		Jobs:       repository.NewSchedulerRepository(mainDB, log),
		Webhooks:   repository.NewWebhookRepository(mainDB, log),
	}

	if err := seed.Apply(context.Background(), doc, stores, log); err != nil {
		return fmt.Errorf("seed: apply %s: %w", s.Path, err)
	}

	log.WithField("file", s.Path).Info("seed document applied")
	return nil
}
