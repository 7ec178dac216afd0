package model

import "time"

type StrategyType string

const (
	StrategyBuiltIn   StrategyType = "built-in"
	StrategyCustom    StrategyType = "custom"
	StrategyConnector StrategyType = "connector"
)

type StrategyStatus string

const (
	StrategyActive  StrategyStatus = "active"
	StrategyStopped StrategyStatus = "stopped"
)

// Strategy is a named, parametrised trading program a user can run in
// backtest, paper or live mode via internal/strategyrunner.
type Strategy struct {
	ID         ID             `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     ID             `gorm:"type:uuid;index;not null" json:"user_id"`
	Name       string         `gorm:"size:120;not null" json:"name"`
	Type       StrategyType   `gorm:"size:20;not null" json:"type"`
	ParamsJSON string         `gorm:"type:text" json:"params"`
	Status     StrategyStatus `gorm:"size:20;not null;default:active" json:"status"`

	ErrorCount    int        `json:"error_count"`
	ErrorWindowAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Strategy) TableName() string { return "strategies" }

type StrategyMode string

const (
	ModeBacktest StrategyMode = "backtest"
	ModePaper    StrategyMode = "paper"
	ModeLive     StrategyMode = "live"
)

type StrategyRunStatus string

const (
	StrategyRunPending   StrategyRunStatus = "pending"
	StrategyRunRunning   StrategyRunStatus = "running"
	StrategyRunSucceeded StrategyRunStatus = "succeeded"
	StrategyRunFailed    StrategyRunStatus = "failed"
	StrategyRunStopped   StrategyRunStatus = "stopped"
)

// StrategyRun links a Strategy to zero or more ExecutionRuns created
// while it was active.
type StrategyRun struct {
	ID                ID                `gorm:"type:uuid;primaryKey" json:"id"`
	StrategyID        ID                `gorm:"type:uuid;index;not null" json:"strategy_id"`
	Mode              StrategyMode      `gorm:"size:10;not null" json:"mode"`
	Status            StrategyRunStatus `gorm:"size:20;not null;default:pending" json:"status"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	ResultMetricsJSON string            `gorm:"type:text" json:"result_metrics,omitempty"`
	ExecutionRunIDs   []ID              `gorm:"-" json:"execution_run_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StrategyRun) TableName() string { return "strategy_runs" }

// StrategyRunExecutionLink is the persisted join table backing
// StrategyRun.ExecutionRunIDs.
type StrategyRunExecutionLink struct {
	StrategyRunID  ID `gorm:"type:uuid;primaryKey" json:"strategy_run_id"`
	ExecutionRunID ID `gorm:"type:uuid;primaryKey" json:"execution_run_id"`
}

func (StrategyRunExecutionLink) TableName() string { return "strategy_run_execution_links" }

// ScheduledJob fires StrategyRuns on a cron schedule.
type ScheduledJob struct {
	ID          ID         `gorm:"type:uuid;primaryKey" json:"id"`
	StrategyID  ID         `gorm:"type:uuid;index;not null" json:"strategy_id"`
	CronExpr    string     `gorm:"size:60;not null" json:"cron_expr"`
	Enabled     bool       `gorm:"not null;default:true" json:"enabled"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	ContextJSON string     `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ScheduledJob) TableName() string { return "scheduled_jobs" }

// WebhookConnector authenticates an inbound webhook by constant-time
// token comparison and maps its payload onto a Strategy.
type WebhookConnector struct {
	ID            ID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        ID     `gorm:"type:uuid;index;not null" json:"user_id"`
	Token         string `gorm:"size:120;uniqueIndex;not null" json:"-"`
	StrategyID    ID     `gorm:"type:uuid;index;not null" json:"strategy_id"`
	TransformJSON string `gorm:"type:text" json:"transform"`
	Enabled       bool   `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookConnector) TableName() string { return "webhook_connectors" }
