package rms

import (
	"context"
	"fmt"
	"time"

	"strategyexecutor/internal/model"
)

// ActionKind distinguishes the in-trade enforcement actions the sweep
// can emit, including the auto-hedge cue.
type ActionKind string

const (
	ActionSquareOff    ActionKind = "square_off"
	ActionTightenTSL   ActionKind = "tighten_trailing_sl"
	ActionAutoHedge    ActionKind = "auto_hedge"
)

// Action is one emitted enforcement command, audited with the rule name
// that produced it.
type Action struct {
	Kind    ActionKind
	Rule    string
	Message string
}

// Enforce runs the periodic/on-request in-trade sweep for one user and
// returns the actions it decided to take. Each action is audited before
// being returned.
func (g *Gate) Enforce(ctx context.Context, userID model.ID, at time.Time) ([]Action, error) {
	lock := g.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := g.configs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rms: load config: %w", err)
	}
	day := g.TradingDay(at)
	counters, err := g.counters.GetOrCreate(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("rms: load counters: %w", err)
	}

	var actions []Action

	if cfg.MaxDailyLoss != nil && counters.RealizedPnL <= -*cfg.MaxDailyLoss && cfg.AutoSquareOffEnabled {
		msg := fmt.Sprintf("daily loss %.2f breached max_daily_loss %.2f; auto square-off", counters.RealizedPnL, *cfg.MaxDailyLoss)
		actions = append(actions, Action{Kind: ActionSquareOff, Rule: CodeMaxLoss, Message: msg})
	}

	if cfg.ProfitLock != nil && counters.RealizedPnL >= *cfg.ProfitLock {
		msg := fmt.Sprintf("realized PnL %.2f reached profit_lock %.2f; tightening trailing stop", counters.RealizedPnL, *cfg.ProfitLock)
		actions = append(actions, Action{Kind: ActionTightenTSL, Rule: "PROFIT_LOCK", Message: msg})
	}

	if cfg.DrawdownLimit != nil {
		drawdown := counters.SessionPeakPnL - counters.RealizedPnL
		if drawdown >= *cfg.DrawdownLimit {
			msg := fmt.Sprintf("drawdown %.2f from session peak %.2f breached drawdown_limit %.2f", drawdown, counters.SessionPeakPnL, *cfg.DrawdownLimit)
			actions = append(actions, Action{Kind: ActionSquareOff, Rule: "DRAWDOWN_LIMIT", Message: msg})
		}
	}

	if cfg.AutoHedgeEnabled && cfg.ExposureLimit != nil {
		hedgeTrigger := *cfg.ExposureLimit * 0.9
		if counters.OpenNotional >= hedgeTrigger {
			ratio := 1.0
			if cfg.AutoHedgeRatio != nil {
				ratio = *cfg.AutoHedgeRatio
			}
			msg := fmt.Sprintf("exposure %.2f within 10%% of limit %.2f; auto hedge at ratio %.2f", counters.OpenNotional, *cfg.ExposureLimit, ratio)
			actions = append(actions, Action{Kind: ActionAutoHedge, Rule: CodeExposure, Message: msg})
		}
	}

	for _, action := range actions {
		g.audit.Record(ctx, &model.RmsAuditEntry{ //nolint:errcheck
			ID:       model.NewID(),
			UserID:   userID,
			RuleName: action.Rule,
			Message:  action.Message,
		})
		g.notify(ctx, userID, cfg, action.Message)
	}

	return actions, nil
}

// notify emits one audit line per configured notification channel. It
// is an extension point: no real email/Telegram client is wired here.
func (g *Gate) notify(ctx context.Context, userID model.ID, cfg *model.RmsConfig, detail string) {
	channels := make([]string, 0, 2)
	if cfg.NotifyEmail {
		channels = append(channels, "email")
	}
	if cfg.NotifyTelegram {
		channels = append(channels, "telegram")
	}
	for _, channel := range channels {
		msg := fmt.Sprintf("notification queued via %s: %s", channel, detail)
		g.log.WithField("user_id", userID).Info(msg)
		_ = g.audit.Record(ctx, &model.RmsAuditEntry{
			ID:       model.NewID(),
			UserID:   userID,
			RuleName: "NOTIFY",
			Message:  msg,
		})
	}
}
