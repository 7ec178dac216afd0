// Package scheduler boots the cron process: the ScheduledJob tick loop
// firing StrategyRuns through the same trigger adapter the webhook
// ingress uses, plus the periodic RMS enforcement sweep.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/database"
	"strategyexecutor/internal/eventstore"
	"strategyexecutor/internal/orchestrator"
	"strategyexecutor/internal/repository"
	"strategyexecutor/internal/rms"
	sched "strategyexecutor/internal/scheduler"
	"strategyexecutor/internal/strategyrunner"
	"strategyexecutor/internal/vault"
)

type Scheduler struct{}

func (s *Scheduler) Start() error {
	cfg := GetConfig()
	log := logger.WithField("cmd", "scheduler")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	dbCfg := database.GetConfig()
	mainDB := database.InitMainDB(dbCfg, log)

	linkRepo := repository.NewBrokerLinkRepository(mainDB, log)
	accountRepo := repository.NewAccountRepository(mainDB, log)
	groupRepo := repository.NewExecutionGroupRepository(mainDB, log)
	runRepo := repository.NewExecutionRunRepository(mainDB, log)
	orderRepo := repository.NewOrderRepository(mainDB, log)
	rmsRepo := repository.NewRmsRepository(mainDB, log)
	strategyRepo := repository.NewStrategyRepository(mainDB, log)
	schedRepo := repository.NewSchedulerRepository(mainDB, log)
	events := eventstore.New(mainDB, log)

	v, err := vault.New(vault.GetConfig(), log)
	if err != nil {
		return fmt.Errorf("scheduler: init credential vault: %w", err)
	}

	registry := broker.New(
		broker.NewVaultCredentialSource(v, linkRepo),
		linkRepo,
		broker.GetConfig().Deadlines(),
		log,
	)
	registry.Register(broker.KindPaper, broker.NewPaperTrading(nil))

	gate, err := rms.New(rms.GetConfig(), rmsRepo, rmsRepo, rmsRepo, accountRepo, log)
	if err != nil {
		return fmt.Errorf("scheduler: init rms gate: %w", err)
	}

	orch := orchestrator.New(
		gate,
		registry,
		accountRepo,
		nil,
		events,
		runRepo,
		orderRepo,
		orchestrator.GetConfig(),
		log,
	)

	runner, err := strategyrunner.New(strategyrunner.GetConfig(), orch, groupRepo, strategyRepo, log)
	if err != nil {
		return fmt.Errorf("scheduler: init strategy runner: %w", err)
	}
	trigger := strategyrunner.NewTrigger(runner, strategyRepo, log)

	schedCfg := sched.GetConfig()
	tick, err := time.ParseDuration(schedCfg.TickPeriod)
	if err != nil {
		return fmt.Errorf("scheduler: parse tick period: %w", err)
	}

	if cfg.EnforceEvery != "" {
		enforceEvery, err := time.ParseDuration(cfg.EnforceEvery)
		if err != nil {
			return fmt.Errorf("scheduler: parse enforcement cadence: %w", err)
		}
		if enforceEvery > 0 {
			go runEnforcement(ctx, gate, rmsRepo, enforceEvery, log)
		}
	}

	log.WithField("tick", tick.String()).Info("scheduler loop starting")
	sched.New(schedRepo, trigger, log).Run(ctx, tick)
	return nil
}

// runEnforcement sweeps every RMS-configured user on a fixed cadence.
func runEnforcement(ctx context.Context, gate *rms.Gate, rmsRepo *repository.RmsRepository, every time.Duration, log *logger.Entry) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			userIDs, err := rmsRepo.ConfiguredUserIDs(ctx)
			if err != nil {
				log.WithError(err).Error("list rms-configured users failed")
				continue
			}
			for _, userID := range userIDs {
				actions, err := gate.Enforce(ctx, userID, now)
				if err != nil {
					log.WithError(err).WithField("user_id", userID).Error("rms enforcement sweep failed")
					continue
				}
				for _, action := range actions {
					log.WithFields(logger.Fields{
						"user_id": userID,
						"action":  action.Kind,
						"rule":    action.Rule,
					}).Warn(action.Message)
				}
			}
		}
	}
}
