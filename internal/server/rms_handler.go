package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/rms"
)

// ConfigWriter is the narrow RmsConfig read/write seam, the subset of
// internal/repository.RmsRepository the config endpoints call through.
type ConfigWriter interface {
	Get(ctx context.Context, userID model.ID) (*model.RmsConfig, error)
	Upsert(ctx context.Context, cfg *model.RmsConfig) error
}

// RMSDeps wires the RMS Gate behind the guardrail HTTP surface.
type RMSDeps struct {
	Configs ConfigWriter
	Gate    *rms.Gate
}

func GetRmsConfigHandler(deps RMSDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		cfg, err := deps.Configs.Get(r.Context(), user.ID)
		if err != nil {
			internalError(w, log, "load rms config failed", err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

type setRmsConfigPayload struct {
	MaxLotsPerOrder        *int     `json:"max_lots_per_order,omitempty"`
	MaxDailyLoss           *float64 `json:"max_daily_loss,omitempty"`
	MaxDailyLots           *int     `json:"max_daily_lots,omitempty"`
	ExposureLimit          *float64 `json:"exposure_limit,omitempty"`
	MarginBufferPct        float64  `json:"margin_buffer_pct,omitempty"`
	ProfitLock             *float64 `json:"profit_lock,omitempty"`
	TrailingSL             *float64 `json:"trailing_sl,omitempty"`
	DrawdownLimit          *float64 `json:"drawdown_limit,omitempty"`
	AutoSquareOffEnabled   bool     `json:"auto_square_off_enabled,omitempty"`
	AutoSquareOffBufferPct float64  `json:"auto_square_off_buffer_pct,omitempty"`
	AutoHedgeEnabled       bool     `json:"auto_hedge_enabled,omitempty"`
	AutoHedgeRatio         *float64 `json:"auto_hedge_ratio,omitempty"`
	NotifyEmail            bool     `json:"notify_email,omitempty"`
	NotifyTelegram         bool     `json:"notify_telegram,omitempty"`
}

func SetRmsConfigHandler(deps RMSDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		var payload setRmsConfigPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		cfg := &model.RmsConfig{
			UserID:                 user.ID,
			MaxLotsPerOrder:        payload.MaxLotsPerOrder,
			MaxDailyLoss:           payload.MaxDailyLoss,
			MaxDailyLots:           payload.MaxDailyLots,
			ExposureLimit:          payload.ExposureLimit,
			MarginBufferPct:        payload.MarginBufferPct,
			ProfitLock:             payload.ProfitLock,
			TrailingSL:             payload.TrailingSL,
			DrawdownLimit:          payload.DrawdownLimit,
			AutoSquareOffEnabled:   payload.AutoSquareOffEnabled,
			AutoSquareOffBufferPct: payload.AutoSquareOffBufferPct,
			AutoHedgeEnabled:       payload.AutoHedgeEnabled,
			AutoHedgeRatio:         payload.AutoHedgeRatio,
			NotifyEmail:            payload.NotifyEmail,
			NotifyTelegram:         payload.NotifyTelegram,
		}
		if err := deps.Configs.Upsert(r.Context(), cfg); err != nil {
			internalError(w, log, "save rms config failed", err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// RmsStatusHandler reports the current headroom snapshot: remaining
// lots/loss/margin plus near-threshold alerts.
func RmsStatusHandler(deps RMSDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		status, err := deps.Gate.Status(r.Context(), user.ID, time.Now())
		if err != nil {
			internalError(w, log, "load rms status failed", err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// RmsSquareOffHandler manually triggers the same in-trade enforcement
// sweep the scheduler runs periodically, forcing an immediate
// evaluation rather than waiting for the next scheduled tick.
func RmsSquareOffHandler(deps RMSDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		actions, err := deps.Gate.Enforce(r.Context(), user.ID, time.Now())
		if err != nil {
			internalError(w, log, "rms square-off sweep failed", err)
			return
		}
		writeJSON(w, http.StatusOK, actions)
	}
}

// RmsEnforceHandler runs the in-trade enforcement sweep and reports
// the actions taken.
func RmsEnforceHandler(deps RMSDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		actions, err := deps.Gate.Enforce(r.Context(), user.ID, time.Now())
		if err != nil {
			internalError(w, log, "rms enforcement sweep failed", err)
			return
		}
		writeJSON(w, http.StatusOK, actions)
	}
}
