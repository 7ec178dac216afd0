// Package rms implements the RMS Gate: pre-trade guardrails
// enforced atomically against per-user mutable daily counters, plus the
// periodic in-trade enforcement sweep.
package rms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

// CounterStore persists the per-(user, trading_day) RmsCounters row.
type CounterStore interface {
	GetOrCreate(ctx context.Context, userID model.ID, tradingDay string) (*model.RmsCounters, error)
	Save(ctx context.Context, counters *model.RmsCounters) error
}

// ConfigStore resolves a user's RmsConfig, falling back to defaults.
type ConfigStore interface {
	Get(ctx context.Context, userID model.ID) (*model.RmsConfig, error)
}

// AuditStore records RmsAuditEntry rows for gate and enforcement decisions.
type AuditStore interface {
	Record(ctx context.Context, entry *model.RmsAuditEntry) error
}

// AccountMarginProvider reports current available margin for an account,
// used by the margin-buffer check.
type AccountMarginProvider interface {
	AvailableMargin(ctx context.Context, accountID model.ID) (decimal.Decimal, error)
}

// PositionProvider reports open positions for square-off enforcement.
type PositionProvider interface {
	OpenPositions(ctx context.Context, userID model.ID) ([]model.Position, error)
}

// RejectionRecorder observes pre-trade rejections for the /metrics
// surface (internal/metrics.Collectors implements this). Optional:
// a Gate with no recorder attached simply skips the observation.
type RejectionRecorder interface {
	RecordRmsRejection(code string)
}

// Gate is the RMS guardrail enforcer. The lock domain here is per-user
// and orthogonal to the per-BrokerLink session-refresh lock in
// internal/broker — they are never conflated.
type Gate struct {
	counters    CounterStore
	configs     ConfigStore
	audit       AuditStore
	margins     AccountMarginProvider
	userMargins UserMarginProvider
	metrics     RejectionRecorder
	loc         *time.Location

	userLocks sync.Map // model.ID -> *sync.Mutex
	log       *logger.Entry
}

func New(cfg Config, counters CounterStore, configs ConfigStore, audit AuditStore, margins AccountMarginProvider, log *logger.Entry) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.ExchangeTimezone)
	if err != nil {
		return nil, fmt.Errorf("rms: load exchange timezone %q: %w", cfg.ExchangeTimezone, err)
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Gate{
		counters: counters,
		configs:  configs,
		audit:    audit,
		margins:  margins,
		loc:      loc,
		log:      log.WithField("component", "rms.Gate"),
	}, nil
}

func (g *Gate) lockFor(userID model.ID) *sync.Mutex {
	lock, _ := g.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// TradingDay returns the exchange-local calendar day string used to key
// RmsCounters rows.
func (g *Gate) TradingDay(at time.Time) string {
	return at.In(g.loc).Format("2006-01-02")
}

// LegRequest is one prospective leg submitted to PreTrade.
type LegRequest struct {
	AccountID model.ID
	Lots      int
	LotSize   int
	RefPrice  decimal.Decimal
}

// Reservation is returned on acceptance; the orchestrator must call
// Release when the leg finalises as rejected/error, and leave the
// reservation in place when it finalises as accepted/filled.
type Reservation struct {
	UserID     model.ID
	TradingDay string
	Lots       int
	Notional   decimal.Decimal
	released   bool
}

// PreTrade evaluates one leg under the per-user counter lock and, on
// acceptance, reserves its lots and notional immediately so the next
// leg in the same run sees the updated counters.
func (g *Gate) PreTrade(ctx context.Context, userID model.ID, req LegRequest, at time.Time) (*Reservation, error) {
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

	notional := req.RefPrice.Mul(decimal.NewFromInt(int64(req.Lots * req.LotSize)))

	if cfg.MaxLotsPerOrder != nil && req.Lots > *cfg.MaxLotsPerOrder {
		return nil, g.reject(ctx, userID, CodeMaxLots, fmt.Sprintf(
			"leg lots %d exceeds max_lots_per_order %d", req.Lots, *cfg.MaxLotsPerOrder), counters)
	}

	if cfg.MaxDailyLots != nil && counters.LotsTraded+req.Lots > *cfg.MaxDailyLots {
		return nil, g.reject(ctx, userID, CodeMaxDailyLots, fmt.Sprintf(
			"daily lot limit %d would be exceeded (today=%d, leg=%d)", *cfg.MaxDailyLots, counters.LotsTraded, req.Lots), counters)
	}

	if cfg.ExposureLimit != nil {
		projected := decimal.NewFromFloat(counters.OpenNotional).Add(notional)
		if projected.GreaterThan(decimal.NewFromFloat(*cfg.ExposureLimit)) {
			return nil, g.reject(ctx, userID, CodeExposure, fmt.Sprintf(
				"projected exposure %s exceeds limit %.2f", projected.StringFixed(2), *cfg.ExposureLimit), counters)
		}
	}

	if g.margins != nil {
		available, err := g.margins.AvailableMargin(ctx, req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("rms: load available margin: %w", err)
		}
		required := notional.Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(cfg.MarginBufferPct / 100)))
		if available.LessThan(required) {
			return nil, g.reject(ctx, userID, CodeMargin, fmt.Sprintf(
				"available margin %s below required %s (buffer %.2f%%)",
				available.StringFixed(2), required.StringFixed(2), cfg.MarginBufferPct), counters)
		}
	}

	if cfg.MaxDailyLoss != nil && counters.RealizedPnL <= -*cfg.MaxDailyLoss {
		return nil, g.reject(ctx, userID, CodeMaxLoss, fmt.Sprintf(
			"daily loss %.2f already breached limit %.2f", counters.RealizedPnL, *cfg.MaxDailyLoss), counters)
	}

	counters.LotsTraded += req.Lots
	counters.OpenNotional += notionalFloat(notional)
	if err := g.counters.Save(ctx, counters); err != nil {
		return nil, fmt.Errorf("rms: save counters: %w", err)
	}

	return &Reservation{UserID: userID, TradingDay: day, Lots: req.Lots, Notional: notional}, nil
}

// Release returns a rejected/errored leg's reservation to the counters.
// Safe to call at most once per Reservation.
func (g *Gate) Release(ctx context.Context, res *Reservation) error {
	if res == nil || res.released {
		return nil
	}
	lock := g.lockFor(res.UserID)
	lock.Lock()
	defer lock.Unlock()

	counters, err := g.counters.GetOrCreate(ctx, res.UserID, res.TradingDay)
	if err != nil {
		return fmt.Errorf("rms: load counters for release: %w", err)
	}
	counters.LotsTraded -= res.Lots
	counters.OpenNotional -= notionalFloat(res.Notional)
	if counters.LotsTraded < 0 {
		counters.LotsTraded = 0
	}
	if counters.OpenNotional < 0 {
		counters.OpenNotional = 0
	}
	res.released = true
	return g.counters.Save(ctx, counters)
}

// RecordFill applies a leg's realised PnL onto the day's counters once
// the broker reports a fill, keeping session-peak tracking current for
// the drawdown enforcement check.
func (g *Gate) RecordFill(ctx context.Context, userID model.ID, realizedPnL decimal.Decimal, at time.Time) error {
	lock := g.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	day := g.TradingDay(at)
	counters, err := g.counters.GetOrCreate(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("rms: load counters for fill: %w", err)
	}
	counters.RealizedPnL += notionalFloat(realizedPnL)
	if counters.RealizedPnL > counters.SessionPeakPnL {
		counters.SessionPeakPnL = counters.RealizedPnL
	}
	return g.counters.Save(ctx, counters)
}

func (g *Gate) reject(ctx context.Context, userID model.ID, code, message string, counters *model.RmsCounters) error {
	g.log.WithFields(logger.Fields{"user_id": userID, "code": code}).Warn(message)
	_ = g.audit.Record(ctx, &model.RmsAuditEntry{
		ID:       model.NewID(),
		UserID:   userID,
		RuleName: code,
		Message:  message,
	})
	if g.metrics != nil {
		g.metrics.RecordRmsRejection(code)
	}
	return newViolation(code, message)
}

// WithMetrics attaches the /metrics rejection counter. Returns the
// receiver so it can be chained onto New's result alongside
// WithUserMargins.
func (g *Gate) WithMetrics(m RejectionRecorder) *Gate {
	g.metrics = m
	return g
}

func notionalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
