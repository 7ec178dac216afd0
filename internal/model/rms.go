package model

import "time"

// RmsConfig holds the per-user guardrail scalars enforced by internal/rms.
type RmsConfig struct {
	UserID ID `gorm:"type:uuid;primaryKey" json:"user_id"`

	MaxLotsPerOrder       *int     `json:"max_lots_per_order,omitempty"`
	MaxDailyLoss          *float64 `json:"max_daily_loss,omitempty"`
	MaxDailyLots          *int     `json:"max_daily_lots,omitempty"`
	ExposureLimit         *float64 `json:"exposure_limit,omitempty"`
	MarginBufferPct       float64  `json:"margin_buffer_pct"`
	ProfitLock            *float64 `json:"profit_lock,omitempty"`
	TrailingSL            *float64 `json:"trailing_sl,omitempty"`
	DrawdownLimit         *float64 `json:"drawdown_limit,omitempty"`
	AutoSquareOffEnabled  bool     `json:"auto_square_off_enabled"`
	AutoSquareOffBufferPct float64 `json:"auto_square_off_buffer_pct"`
	// AutoHedgeEnabled/Ratio drive the enforcement sweep's hedge cue
	// when notional exposure nears the configured limit.
	AutoHedgeEnabled bool     `json:"auto_hedge_enabled"`
	AutoHedgeRatio   *float64 `json:"auto_hedge_ratio,omitempty"`
	NotifyEmail      bool     `json:"notify_email"`
	NotifyTelegram   bool     `json:"notify_telegram"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (RmsConfig) TableName() string { return "rms_configs" }

// RmsCounters are the mutable per-(user, trading_day) cumulative totals.
// Mutated only inside internal/rms under the per-user counter lock.
type RmsCounters struct {
	UserID       ID      `gorm:"type:uuid;primaryKey;index:idx_rms_counters,unique" json:"user_id"`
	TradingDay   string  `gorm:"size:10;primaryKey;index:idx_rms_counters,unique" json:"trading_day"`
	RealizedPnL  float64 `json:"realized_pnl"`
	LotsTraded   int     `json:"lots_traded"`
	OpenNotional float64 `json:"open_notional"`

	// SessionPeakPnL tracks the running high-water mark of RealizedPnL
	// for the current trading day, used by the drawdown_limit check.
	SessionPeakPnL float64 `json:"session_peak_pnl"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (RmsCounters) TableName() string { return "rms_counters" }

// RmsAuditEntry records one enforcement or gate decision with the
// breached rule name and a snapshot of the counters at decision time.
type RmsAuditEntry struct {
	ID         ID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     ID        `gorm:"type:uuid;index;not null" json:"user_id"`
	RuleName   string    `gorm:"size:60;not null" json:"rule_name"`
	Message    string    `gorm:"type:text" json:"message"`
	SnapshotJSON string  `gorm:"type:text" json:"snapshot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RmsAuditEntry) TableName() string { return "rms_audit_entries" }
