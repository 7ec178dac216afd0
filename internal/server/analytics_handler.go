package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/analytics"
	"strategyexecutor/internal/auth"
)

// AnalyticsDeps wires the Analytics Aggregator behind the
// dashboard/export HTTP surface.
type AnalyticsDeps struct {
	Aggregator *analytics.Aggregator
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// AnalyticsDashboardHandler returns the combined dashboard payload.
func AnalyticsDashboardHandler(deps AnalyticsDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		days := queryInt(r, "days", 0)
		tradeLimit := queryInt(r, "trade_limit", 0)
		dashboard, err := deps.Aggregator.Dashboard(r.Context(), user.ID, days, tradeLimit)
		if err != nil {
			internalError(w, log, "build dashboard failed", err)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	}
}

// AnalyticsDailyPnLHandler returns the realised-PnL series used both
// by the dashboard and the daily-pnl CSV export.
func AnalyticsDailyPnLHandler(deps AnalyticsDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		days := queryInt(r, "days", 0)
		points, err := deps.Aggregator.DailyPnL(r.Context(), user.ID, days)
		if err != nil {
			internalError(w, log, "daily pnl failed", err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// AnalyticsExportHandler streams one of the CSV exports: daily-pnl,
// latency-summary or leg-status.
func AnalyticsExportHandler(deps AnalyticsDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		kind := analytics.ExportKind(chi.URLParam(r, "kind"))
		days := queryInt(r, "days", 0)

		w.Header().Set("Content-Type", "text/csv")

		switch kind {
		case analytics.ExportDailyPnL:
			points, err := deps.Aggregator.DailyPnL(r.Context(), user.ID, days)
			if err != nil {
				internalError(w, log, "daily pnl export failed", err)
				return
			}
			w.Header().Set("Content-Disposition", `attachment; filename="daily-pnl.csv"`)
			if err := analytics.WriteDailyPnLCSV(w, points); err != nil {
				log.WithError(err).Error("write daily pnl csv failed")
			}
		case analytics.ExportLatencySummary:
			summary, err := deps.Aggregator.Summary(r.Context(), user.ID)
			if err != nil {
				internalError(w, log, "latency summary export failed", err)
				return
			}
			w.Header().Set("Content-Disposition", `attachment; filename="latency-summary.csv"`)
			if err := analytics.WriteLatencySummaryCSV(w, *summary); err != nil {
				log.WithError(err).Error("write latency summary csv failed")
			}
		case analytics.ExportLegStatus:
			summary, err := deps.Aggregator.Summary(r.Context(), user.ID)
			if err != nil {
				internalError(w, log, "leg status export failed", err)
				return
			}
			w.Header().Set("Content-Disposition", `attachment; filename="leg-status.csv"`)
			if err := analytics.WriteLegStatusCSV(w, summary.ExecutionLegStatusCounts); err != nil {
				log.WithError(err).Error("write leg status csv failed")
			}
		default:
			badRequest(w, "unknown export kind")
		}
	}
}
