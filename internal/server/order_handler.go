package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/orchestrator"
	"strategyexecutor/internal/repository"
)

// OrderSearcher is the narrow read seam SearchOrdersHandler calls
// through.
type OrderSearcher interface {
	Search(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error)
}

// OrderDeps wires a single-account manual order onto the same
// Execution Orchestrator path a group dispatch uses, via a
// one-mapping, fixed-policy synthetic ExecutionGroup.
type OrderDeps struct {
	Orders       OrderSearcher
	Orchestrator *orchestrator.Orchestrator
}

type createOrderPayload struct {
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       model.OrderSide `json:"side"`
	Lots       int             `json:"lots"`
	LotSize    int             `json:"lot_size"`
	OrderType  model.OrderKind `json:"order_type"`
	Price      *float64        `json:"price,omitempty"`
	TakeProfit *float64        `json:"take_profit,omitempty"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	StrategyID *string         `json:"strategy_id,omitempty"`
}

// CreateOrderHandler places one order directly against a single
// account, outside any ExecutionGroup, by wrapping it in a synthetic
// one-account, policy=fixed group so it still runs through the RMS
// Gate and event telemetry the same way a fanned-out order does.
func CreateOrderHandler(deps OrderDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}

		var payload createOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		accountID, err := model.ParseID(payload.AccountID)
		if err != nil {
			badRequest(w, "invalid account_id")
			return
		}
		if payload.Lots <= 0 {
			badRequest(w, "lots must be positive")
			return
		}
		if payload.OrderType == "" {
			payload.OrderType = model.OrderKindMarket
		}

		var strategyID *model.ID
		if payload.StrategyID != nil {
			id, err := model.ParseID(*payload.StrategyID)
			if err != nil {
				badRequest(w, "invalid strategy_id")
				return
			}
			strategyID = &id
		}

		lots := payload.Lots
		group := model.ExecutionGroup{ID: model.NewID(), UserID: user.ID, Name: "manual", Mode: model.GroupModeParallel}
		mappings := []model.GroupAccountMapping{{
			ID:        model.NewID(),
			GroupID:   group.ID,
			AccountID: accountID,
			Policy:    model.PolicyFixed,
			FixedLots: &lots,
		}}

		result, err := deps.Orchestrator.Run(r.Context(), orchestrator.RunRequest{
			UserID:   user.ID,
			Group:    group,
			Mappings: mappings,
			Intent: model.TradeIntent{
				Symbol:     payload.Symbol,
				Side:       payload.Side,
				TotalLots:  payload.Lots,
				LotSize:    payload.LotSize,
				OrderType:  payload.OrderType,
				Price:      payload.Price,
				TakeProfit: payload.TakeProfit,
				StopLoss:   payload.StopLoss,
				StrategyID: strategyID,
			},
		})
		if err != nil {
			internalError(w, log, "place order failed", err)
			return
		}

		var orderID *model.ID
		if len(result.Orders) > 0 {
			orderID = &result.Orders[0]
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"execution_run_id": result.Run.ID,
			"status":           result.Run.Status,
			"order_id":         orderID,
		})
	}
}

// SearchOrdersHandler lists orders for the authenticated user with
// optional symbol/status/pagination filters.
func SearchOrdersHandler(deps OrderDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}

		var symbol *string
		if s := r.URL.Query().Get("symbol"); s != "" {
			symbol = &s
		}

		var status *model.OrderStatus
		if s := r.URL.Query().Get("status"); s != "" {
			st := model.OrderStatus(s)
			status = &st
		}

		var createdAfter, createdBefore *time.Time
		if s := r.URL.Query().Get("createdFrom"); s != "" {
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				badRequest(w, "invalid createdFrom")
				return
			}
			createdAfter = &parsed
		}
		if s := r.URL.Query().Get("createdTo"); s != "" {
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				badRequest(w, "invalid createdTo")
				return
			}
			createdBefore = &parsed
		}

		page := 1
		if s := r.URL.Query().Get("page"); s != "" {
			parsed, err := strconv.Atoi(s)
			if err != nil || parsed <= 0 {
				badRequest(w, "invalid page")
				return
			}
			page = parsed
		}
		pageSize := 20
		if s := r.URL.Query().Get("pageSize"); s != "" {
			parsed, err := strconv.Atoi(s)
			if err != nil || parsed <= 0 {
				badRequest(w, "invalid pageSize")
				return
			}
			pageSize = parsed
		}

		orders, err := deps.Orders.Search(r.Context(), repository.OrderSearchOptions{
			UserID:        user.ID,
			Symbol:        symbol,
			Status:        status,
			CreatedAfter:  createdAfter,
			CreatedBefore: createdBefore,
			Limit:         pageSize,
			Offset:        (page - 1) * pageSize,
		})
		if err != nil {
			internalError(w, log, "search orders failed", err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}
