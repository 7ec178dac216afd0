// Package server boots the HTTP API process: database pools, the full
// repository graph, broker registry, RMS gate, orchestrator, strategy
// runner and webhook ingress, then serves the chi router until a
// shutdown signal arrives.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/analytics"
	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/database"
	"strategyexecutor/internal/eventstore"
	"strategyexecutor/internal/metrics"
	"strategyexecutor/internal/orchestrator"
	"strategyexecutor/internal/repository"
	"strategyexecutor/internal/rms"
	"strategyexecutor/internal/scheduler"
	"strategyexecutor/internal/seed"
	httpserver "strategyexecutor/internal/server"
	"strategyexecutor/internal/strategyrunner"
	"strategyexecutor/internal/vault"
)

type Server struct{}

func (s *Server) Start() error {
	cfg := GetConfig()
	log := logger.WithField("cmd", "server")

	dbCfg := database.GetConfig()
	mainDB := database.InitMainDB(dbCfg, log)
	readDB := database.InitReadOnlyDB(dbCfg, log)

	userRepo := repository.NewUserRepository(mainDB, log)
	linkRepo := repository.NewBrokerLinkRepository(mainDB, log)
	accountRepo := repository.NewAccountRepository(mainDB, log)
	groupRepo := repository.NewExecutionGroupRepository(mainDB, log)
	runRepo := repository.NewExecutionRunRepository(mainDB, log)
	orderRepo := repository.NewOrderRepository(mainDB, log)
	rmsRepo := repository.NewRmsRepository(mainDB, log)
	strategyRepo := repository.NewStrategyRepository(mainDB, log)
	webhookRepo := repository.NewWebhookRepository(mainDB, log)
	events := eventstore.New(mainDB, log)

	v, err := vault.New(vault.GetConfig(), log)
	if err != nil {
		return fmt.Errorf("server: init credential vault: %w", err)
	}

	registry := broker.New(
		broker.NewVaultCredentialSource(v, linkRepo),
		linkRepo,
		broker.GetConfig().Deadlines(),
		log,
	)
	registry.Register(broker.KindPaper, broker.NewPaperTrading(nil))

	collectors := metrics.New(metrics.DefaultConfig())

	gate, err := rms.New(rms.GetConfig(), rmsRepo, rmsRepo, rmsRepo, accountRepo, log)
	if err != nil {
		return fmt.Errorf("server: init rms gate: %w", err)
	}
	gate = gate.WithUserMargins(accountRepo).WithMetrics(collectors)

	orch := orchestrator.New(
		gate,
		registry,
		accountRepo,
		nil, // market-data feeds are an external collaborator; LIMIT price is the reference
		events,
		runRepo,
		orderRepo,
		orchestrator.GetConfig(),
		log,
	).WithMetrics(collectors)

	runner, err := strategyrunner.New(strategyrunner.GetConfig(), orch, groupRepo, strategyRepo, log)
	if err != nil {
		return fmt.Errorf("server: init strategy runner: %w", err)
	}
	trigger := strategyrunner.NewTrigger(runner, strategyRepo, log)

	schedCfg := scheduler.GetConfig()
	window, err := time.ParseDuration(schedCfg.WebhookIdempotencyWindow)
	if err != nil {
		return fmt.Errorf("server: parse webhook idempotency window: %w", err)
	}
	ingress := scheduler.NewIngress(webhookRepo, trigger, window, log)

	aggregator := analytics.New(
		analytics.GetConfig(),
		repository.NewOrderRepository(readDB, log),
		repository.NewExecutionRunRepository(readDB, log),
		eventstore.New(readDB, log),
		repository.NewStrategyRepository(readDB, log),
		log,
	)

	issuer, err := auth.NewIssuer(auth.GetConfig())
	if err != nil {
		return fmt.Errorf("server: init token issuer: %w", err)
	}

	router := httpserver.NewRouter(httpserver.Dependencies{
		Issuer: issuer,
		Users:  userRepo,

		Auth:       userRepo,
		Brokers:    httpserver.BrokerDeps{Links: linkRepo, Accounts: accountRepo, Vault: v, Registry: registry},
		Groups:     httpserver.GroupDeps{Groups: groupRepo, Runs: runRepo, Events: events, Orchestrator: orch},
		Orders:     httpserver.OrderDeps{Orders: orderRepo, Orchestrator: orch},
		Strategies: httpserver.StrategyDeps{Store: strategyRepo, Runner: runner},
		RMS:        httpserver.RMSDeps{Configs: rmsRepo, Gate: gate},
		Analytics:  httpserver.AnalyticsDeps{Aggregator: aggregator},
		Webhooks:   httpserver.WebhookDeps{Ingress: ingress},

		Metrics: httpserver.MetricsHandler(collectors.Registry),

		Log: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RmsOverridesPath != "" {
		watcher := &seed.Watcher{
			Path:    cfg.RmsOverridesPath,
			Users:   userRepo,
			Configs: rmsRepo,
			Log:     log,
		}
		go func() {
			if err := watcher.Start(ctx); err != nil {
				log.WithError(err).Error("rms overrides watcher stopped")
			}
		}()
	}

	onReady := func() {
		if !cfg.SystemdNotify {
			return
		}
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.WithError(err).Warn("sd_notify readiness ping failed")
		}
	}

	httpserver.Start(":"+cfg.Port, router, cfg.ShutdownTimeout, onReady, log)
	return nil
}
