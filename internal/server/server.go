// Package server implements the HTTP surface: a chi router exposing
// the execution groups, broker links, strategies, RMS and analytics
// endpoints over the core this module builds.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/auth"
)

// Dependencies wires every repository and domain service the HTTP
// handlers call through narrow interfaces defined alongside each
// handler group.
type Dependencies struct {
	Issuer *auth.Issuer
	Users  auth.UserStore

	Auth        AuthDeps
	Brokers     BrokerDeps
	Groups      GroupDeps
	Orders      OrderDeps
	Strategies  StrategyDeps
	RMS         RMSDeps
	Analytics   AnalyticsDeps
	Webhooks    WebhookDeps

	Metrics MetricsReader

	Log *logger.Entry
}

// MetricsReader is the narrow seam the /metrics endpoint serves
// through; internal/metrics.Collectors.Registry satisfies it directly
// via promhttp.HandlerFor.
type MetricsReader interface {
	http.Handler
}

// NewRouter builds the full chi.Mux: public routes (register, login,
// webhooks, healthcheck, metrics) unauthenticated, everything else
// behind auth.Middleware.
func NewRouter(deps Dependencies) *chi.Mux {
	log := deps.Log
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			log.WithError(err).Error("/healthcheck write failed")
		}
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Post("/auth/register", RegisterHandler(deps.Auth, deps.Issuer, log))
	r.Post("/auth/login", LoginHandler(deps.Auth, deps.Issuer, log))
	r.Post("/webhooks/{connector_token}", WebhookHandler(deps.Webhooks, log))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Issuer, deps.Users))

		r.Get("/users/me", MeHandler())

		r.Get("/brokers/supported", SupportedBrokersHandler())
		r.Post("/brokers/connect", ConnectBrokerHandler(deps.Brokers, log))
		r.Get("/brokers", ListBrokersHandler(deps.Brokers, log))
		r.Post("/brokers/{id}/login", BrokerLoginHandler(deps.Brokers, log))
		r.Post("/brokers/{id}/logout", BrokerLogoutHandler(deps.Brokers, log))
		r.Delete("/brokers/{id}", DeleteBrokerHandler(deps.Brokers, log))
		r.Get("/brokers/{id}/positions", BrokerPositionsHandler(deps.Brokers, log))
		r.Get("/brokers/{id}/holdings", BrokerHoldingsHandler(deps.Brokers, log))
		r.Post("/brokers/{id}/convert", BrokerConvertHandler(deps.Brokers, log))

		r.Get("/execution-groups", ListGroupsHandler(deps.Groups, log))
		r.Post("/execution-groups", CreateGroupHandler(deps.Groups, log))
		r.Get("/execution-groups/{id}", GetGroupHandler(deps.Groups, log))
		r.Patch("/execution-groups/{id}", UpdateGroupHandler(deps.Groups, log))
		r.Delete("/execution-groups/{id}", DeleteGroupHandler(deps.Groups, log))
		r.Post("/execution-groups/{id}/accounts", AddMappingHandler(deps.Groups, log))
		r.Patch("/execution-groups/{id}/accounts/{mapping_id}", UpdateMappingHandler(deps.Groups, log))
		r.Delete("/execution-groups/{id}/accounts/{mapping_id}", RemoveMappingHandler(deps.Groups, log))
		r.Get("/execution-groups/{id}/preview", PreviewAllocationHandler(deps.Groups, log))
		r.Post("/execution-groups/{id}/orders", PlaceGroupOrderHandler(deps.Groups, log))
		r.Get("/execution-groups/{id}/runs", ListRunsHandler(deps.Groups, log))
		r.Get("/execution-groups/{id}/runs/{run_id}/events", ListRunEventsHandler(deps.Groups, log))

		r.Post("/orders", CreateOrderHandler(deps.Orders, log))
		r.Get("/orders", SearchOrdersHandler(deps.Orders, log))

		r.Get("/strategies", ListStrategiesHandler(deps.Strategies, log))
		r.Post("/strategies", CreateStrategyHandler(deps.Strategies, log))
		r.Get("/strategies/{id}", GetStrategyHandler(deps.Strategies, log))
		r.Post("/strategies/{id}/start", StartStrategyHandler(deps.Strategies, log))
		r.Post("/strategies/{id}/stop", StopStrategyHandler(deps.Strategies, log))
		r.Get("/strategies/{id}/logs", StrategyLogsHandler(deps.Strategies, log))
		r.Get("/strategies/{id}/pnl", StrategyPnLHandler(deps.Strategies, deps.Analytics, log))

		r.Get("/rms/config", GetRmsConfigHandler(deps.RMS, log))
		r.Post("/rms/config", SetRmsConfigHandler(deps.RMS, log))
		r.Get("/rms/status", RmsStatusHandler(deps.RMS, log))
		r.Post("/rms/squareoff", RmsSquareOffHandler(deps.RMS, log))
		r.Post("/rms/enforce", RmsEnforceHandler(deps.RMS, log))

		r.Get("/analytics/dashboard", AnalyticsDashboardHandler(deps.Analytics, log))
		r.Get("/analytics/daily-pnl", AnalyticsDailyPnLHandler(deps.Analytics, log))
		r.Get("/analytics/exports/{kind}", AnalyticsExportHandler(deps.Analytics, log))
	})

	return r
}

func requestLogger(log *logger.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logger.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}

// MetricsHandler adapts a *prometheus.Registry into the MetricsReader
// seam NewRouter mounts at /metrics.
func MetricsHandler(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Start runs the HTTP server and blocks until SIGINT/SIGTERM, then
// shuts down gracefully within shutdownTimeout. onReady fires once the
// listener goroutine is up; cmd/server wires daemon.SdNotify through it
// for systemd readiness notification.
func Start(addr string, router http.Handler, shutdownTimeout time.Duration, onReady func(), log *logger.Entry) {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Infof("listening on %s", addr)
		if onReady != nil {
			onReady()
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
