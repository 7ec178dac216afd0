package rms

import (
	"context"
	"fmt"
	"time"

	"strategyexecutor/internal/model"
)

// Status is the read model behind the RMS status/headroom endpoint:
// how much of each configured guardrail is left before it trips, plus
// any near-threshold alerts worth surfacing to the user.
type Status struct {
	DayPnL           float64  `json:"day_pnl"`
	LotsTradedToday  int      `json:"lots_traded_today"`
	MaxDailyLots     *int     `json:"max_daily_lots,omitempty"`
	LotsRemaining    *int     `json:"lots_remaining,omitempty"`
	MaxDailyLoss     *float64 `json:"max_daily_loss,omitempty"`
	LossRemaining    *float64 `json:"loss_remaining,omitempty"`
	OpenNotional     float64  `json:"open_notional"`
	ExposureLimit    *float64 `json:"exposure_limit,omitempty"`
	AvailableMargin  float64  `json:"available_margin"`
	MarginBufferPct  float64  `json:"margin_buffer_pct"`
	Alerts           []string `json:"alerts"`
}

// Status computes the current headroom snapshot for a user. It never
// mutates counters: the gate lock is not taken here, so it is
// read-only and callable as often as the UI wants to poll.
func (g *Gate) Status(ctx context.Context, userID model.ID, at time.Time) (*Status, error) {
	cfg, err := g.configs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rms: load config: %w", err)
	}
	day := g.TradingDay(at)
	counters, err := g.counters.GetOrCreate(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("rms: load counters: %w", err)
	}

	status := &Status{
		DayPnL:          counters.RealizedPnL,
		LotsTradedToday: counters.LotsTraded,
		MaxDailyLots:    cfg.MaxDailyLots,
		MaxDailyLoss:    cfg.MaxDailyLoss,
		OpenNotional:    counters.OpenNotional,
		ExposureLimit:   cfg.ExposureLimit,
		MarginBufferPct: cfg.MarginBufferPct,
		Alerts:          []string{},
	}

	if g.userMargins != nil {
		available, err := g.userMargins.AvailableMarginByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("rms: load available margin: %w", err)
		}
		status.AvailableMargin = available
	}

	if cfg.MaxDailyLots != nil {
		remaining := *cfg.MaxDailyLots - counters.LotsTraded
		if remaining < 0 {
			remaining = 0
		}
		status.LotsRemaining = &remaining
		threshold := *cfg.MaxDailyLots / 10
		if threshold < 1 {
			threshold = 1
		}
		if remaining <= threshold {
			status.Alerts = append(status.Alerts, "Daily lot limit is nearly exhausted")
		}
	}

	if cfg.MaxDailyLoss != nil {
		remaining := *cfg.MaxDailyLoss + counters.RealizedPnL
		if remaining < 0 {
			remaining = 0
		}
		status.LossRemaining = &remaining
		if counters.RealizedPnL <= -0.8**cfg.MaxDailyLoss {
			status.Alerts = append(status.Alerts, "Daily loss approaching limit")
		}
	}

	if cfg.ExposureLimit != nil && counters.OpenNotional >= *cfg.ExposureLimit*0.9 {
		status.Alerts = append(status.Alerts, "Exposure near configured limit")
	}

	return status, nil
}

// UserMarginProvider reports a user's aggregate available margin across
// all linked accounts, distinct from AccountMarginProvider's per-account
// scope; the two stay separate interfaces.
type UserMarginProvider interface {
	AvailableMarginByUser(ctx context.Context, userID model.ID) (float64, error)
}

// WithUserMargins attaches the aggregate margin provider Status uses.
// Left unset, Status simply reports zero available margin.
func (g *Gate) WithUserMargins(p UserMarginProvider) *Gate {
	g.userMargins = p
	return g
}
