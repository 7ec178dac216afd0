package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusError     OrderStatus = "error"
)

// Order is one broker-bound order leg, linked to its ExecutionRun and
// optional Strategy.
type Order struct {
	ID            ID          `gorm:"type:uuid;primaryKey" json:"id"`
	RunID         ID          `gorm:"type:uuid;index;not null" json:"run_id"`
	AccountID     ID          `gorm:"type:uuid;index;not null" json:"account_id"`
	StrategyID    *ID         `gorm:"type:uuid;index" json:"strategy_id,omitempty"`
	BrokerOrderID string      `gorm:"size:120" json:"broker_order_id,omitempty"`
	Symbol        string      `gorm:"size:60;not null" json:"symbol"`
	Side          OrderSide   `gorm:"size:10;not null" json:"side"`
	Quantity      int         `json:"quantity"`
	OrderType     OrderKind   `gorm:"size:10;not null" json:"order_type"`
	Price         *float64    `json:"price,omitempty"`
	TakeProfit    *float64    `json:"take_profit,omitempty"`
	StopLoss      *float64    `json:"stop_loss,omitempty"`
	Status        OrderStatus `gorm:"size:20;not null;default:pending" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Trade is a realised fill attached to an Order.
type Trade struct {
	ID          ID        `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID     ID        `gorm:"type:uuid;index;not null" json:"order_id"`
	Quantity    int       `json:"quantity"`
	FillPrice   float64   `json:"fill_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

func (Trade) TableName() string { return "trades" }

// Position is the rolling net position per (account, symbol), materialised
// from Trades.
type Position struct {
	ID         ID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID  ID      `gorm:"type:uuid;index:idx_position_account_symbol,unique;not null" json:"account_id"`
	Symbol     string  `gorm:"size:60;index:idx_position_account_symbol,unique;not null" json:"symbol"`
	NetQty     int     `json:"net_qty"`
	AvgPrice   float64 `json:"avg_price"`
	RunningPnL float64 `json:"running_pnl"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (Position) TableName() string { return "positions" }
