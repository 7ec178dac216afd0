package model

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// TradeIntent is the input to the Allocation Planner and Orchestrator:
// a single logical order the user (or a strategy) wants fanned out.
type TradeIntent struct {
	Symbol       string     `json:"symbol"`
	Side         OrderSide  `json:"side"`
	TotalLots    int        `json:"total_lots"`
	LotSize      int        `json:"lot_size"`
	OrderType    OrderKind  `json:"order_type"`
	Price        *float64   `json:"price,omitempty"`
	TakeProfit   *float64   `json:"take_profit,omitempty"`
	StopLoss     *float64   `json:"stop_loss,omitempty"`
	Exchange     string     `json:"exchange,omitempty"`
	Token        string     `json:"token,omitempty"`
	StrategyID   *ID        `json:"strategy_id,omitempty"`
}

// RunStatus is the terminal or in-flight state of an ExecutionRun.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunPartial    RunStatus = "partial"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunRolledBack:
		return true
	default:
		return false
	}
}

// LatencyAggregate summarizes per-leg latency_ms over an ExecutionRun.
type LatencyAggregate struct {
	Count   int     `json:"count"`
	AvgMs   float64 `json:"avg_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
}

// ExecutionRun is the per-run record driven by internal/orchestrator's
// state machine. Once Terminal() it is never mutated again.
type ExecutionRun struct {
	ID            ID                `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        ID                `gorm:"type:uuid;index;not null" json:"user_id"`
	GroupID       *ID               `gorm:"type:uuid;index" json:"group_id,omitempty"`
	StrategyRunID *ID               `gorm:"type:uuid;index" json:"strategy_run_id,omitempty"`
	RequestedAt   time.Time         `json:"requested_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Status        RunStatus         `gorm:"size:20;not null;default:pending" json:"status"`
	PayloadJSON   string            `gorm:"type:text" json:"-"`
	Latency       LatencyAggregate  `gorm:"embedded;embeddedPrefix:latency_" json:"latency"`
	FailureCode   string            `gorm:"size:60" json:"failure_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExecutionRun) TableName() string { return "execution_runs" }

// LegStatus is the lifecycle of one dispatched ExecutionEvent leg.
type LegStatus string

const (
	LegRequested         LegStatus = "requested"
	LegAccepted          LegStatus = "accepted"
	LegRejected          LegStatus = "rejected"
	LegFilled            LegStatus = "filled"
	LegCancelled         LegStatus = "cancelled"
	LegCancelledBeforeSend LegStatus = "cancelled_before_send"
	LegError             LegStatus = "error"
)

func (s LegStatus) Terminal() bool {
	switch s {
	case LegAccepted, LegRejected, LegFilled, LegCancelled, LegCancelledBeforeSend, LegError:
		return true
	default:
		return false
	}
}

func (s LegStatus) Successful() bool {
	return s == LegAccepted || s == LegFilled
}

// ExecutionEvent is one append-only telemetry row for one leg of one run.
// Exactly one terminal event exists per dispatched leg.
type ExecutionEvent struct {
	ID          ID         `gorm:"type:uuid;primaryKey" json:"id"`
	RunID       ID         `gorm:"type:uuid;index;not null" json:"run_id"`
	Sequence    uint64     `gorm:"index;not null" json:"sequence"`
	AccountID   ID         `gorm:"type:uuid;index;not null" json:"account_id"`
	OrderID     *ID        `gorm:"type:uuid" json:"order_id,omitempty"`
	Status      LegStatus  `gorm:"size:30;not null" json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LatencyMs   *float64   `json:"latency_ms,omitempty"`
	Message     string     `gorm:"type:text" json:"message,omitempty"`
	MetadataJSON string    `gorm:"type:text" json:"metadata,omitempty"`
	Simulated   bool       `json:"simulated,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExecutionEvent) TableName() string { return "execution_events" }
