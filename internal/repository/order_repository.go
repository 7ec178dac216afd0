package repository

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// OrderRepository satisfies internal/orchestrator's OrderStore and
// additionally tracks Trade fills and the rolling Position
// projection materialised from them.
type OrderRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewOrderRepository(db *gorm.DB, log *logger.Entry) *OrderRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &OrderRepository{db: db, log: log.WithField("component", "repository.OrderRepository")}
}

func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db, log: r.log}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.log.WithError(err).Error("create order failed")
		return fmt.Errorf("repository: create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID model.ID, status model.OrderStatus, brokerOrderID string) error {
	updates := map[string]any{"status": status}
	if brokerOrderID != "" {
		updates["broker_order_id"] = brokerOrderID
	}
	err := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", orderID).Updates(updates).Error
	if err != nil {
		r.log.WithError(err).Error("update order status failed")
		return fmt.Errorf("repository: update order status: %w", err)
	}
	return nil
}

type OrderSearchOptions struct {
	UserID        model.ID
	Symbol        *string
	Status        *model.OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search lists orders with pagination, joined out to
// Account/BrokerLink so a search can be scoped by owning user.
func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{}).
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ?", opts.UserID)

	if opts.Symbol != nil {
		q = q.Where("orders.symbol = ?", *opts.Symbol)
	}
	if opts.Status != nil {
		q = q.Where("orders.status = ?", *opts.Status)
	}
	if opts.CreatedAfter != nil {
		q = q.Where("orders.created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		q = q.Where("orders.created_at <= ?", *opts.CreatedBefore)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := q.Order("orders.created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("repository: search orders: %w", err)
	}
	return orders, nil
}

// RecordTrade appends a realised fill and folds it into the rolling
// Position projection for (account, symbol).
func (r *OrderRepository) RecordTrade(ctx context.Context, order model.Order, trade *model.Trade) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("repository: create trade: %w", err)
		}

		var position model.Position
		err := tx.Where("account_id = ? AND symbol = ?", order.AccountID, order.Symbol).
			First(&position).Error
		if err != nil {
			if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("repository: load position: %w", err)
			}
			position = model.Position{
				ID:        model.NewID(),
				AccountID: order.AccountID,
				Symbol:    order.Symbol,
			}
		}

		signed := trade.Quantity
		if order.Side == model.SideSell {
			signed = -signed
		}
		newQty := position.NetQty + signed
		if newQty != 0 {
			totalCost := position.AvgPrice*float64(position.NetQty) + trade.FillPrice*float64(signed)
			position.AvgPrice = totalCost / float64(newQty)
		}
		position.NetQty = newQty
		position.RunningPnL += trade.RealizedPnL
		position.UpdatedAt = time.Now()

		if err := tx.Save(&position).Error; err != nil {
			return fmt.Errorf("repository: save position: %w", err)
		}
		return nil
	})
}

func (r *OrderRepository) OpenPositions(ctx context.Context, userID model.ID) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).Model(&model.Position{}).
		Joins("JOIN accounts ON accounts.id = positions.account_id").
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ? AND positions.net_qty != 0", userID).
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("repository: open positions: %w", err)
	}
	return positions, nil
}

func (r *OrderRepository) RecentTrades(ctx context.Context, userID model.ID, limit int) ([]model.Trade, error) {
	var trades []model.Trade
	q := r.db.WithContext(ctx).Model(&model.Trade{}).
		Joins("JOIN orders ON orders.id = trades.order_id").
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ?", userID).
		Order("trades.timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("repository: recent trades: %w", err)
	}
	return trades, nil
}

// TradesSince returns every trade for userID with Timestamp at or after
// since, ascending — the realised-PnL base query internal/analytics
// sums over for the overall/today/daily-series figures.
func (r *OrderRepository) TradesSince(ctx context.Context, userID model.ID, since time.Time) ([]model.Trade, error) {
	var trades []model.Trade
	err := r.db.WithContext(ctx).Model(&model.Trade{}).
		Joins("JOIN orders ON orders.id = trades.order_id").
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ? AND trades.timestamp >= ?", userID, since).
		Order("trades.timestamp ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("repository: trades since: %w", err)
	}
	return trades, nil
}

// TradeRecord joins a Trade to the Symbol/StrategyID of its parent
// Order, the denormalised row internal/analytics's recent-trades and
// daily-PnL views need.
type TradeRecord struct {
	model.Trade
	Symbol     string    `gorm:"column:symbol"`
	StrategyID *model.ID `gorm:"column:strategy_id"`
}

// RecentTradeRecords is RecentTrades joined out to the owning Order's
// symbol and strategy, matching analytics.py's joinedload(Trade.order).
func (r *OrderRepository) RecentTradeRecords(ctx context.Context, userID model.ID, limit int) ([]TradeRecord, error) {
	var records []TradeRecord
	q := r.db.WithContext(ctx).Model(&model.Trade{}).
		Select("trades.*, orders.symbol as symbol, orders.strategy_id as strategy_id").
		Joins("JOIN orders ON orders.id = trades.order_id").
		Joins("JOIN accounts ON accounts.id = orders.account_id").
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ?", userID).
		Order("trades.timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&records).Error; err != nil {
		return nil, fmt.Errorf("repository: recent trade records: %w", err)
	}
	return records, nil
}
