package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/allocation"
	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/orchestrator"
)

// GroupStore is the narrow ExecutionGroup + mapping persistence seam.
type GroupStore interface {
	Create(ctx context.Context, group *model.ExecutionGroup) error
	Get(ctx context.Context, userID, groupID model.ID) (*model.ExecutionGroup, error)
	ListByUser(ctx context.Context, userID model.ID) ([]model.ExecutionGroup, error)
	Update(ctx context.Context, group *model.ExecutionGroup) error
	Delete(ctx context.Context, userID, groupID model.ID) error
	Mappings(ctx context.Context, groupID model.ID) ([]model.GroupAccountMapping, error)
	AddMapping(ctx context.Context, mapping *model.GroupAccountMapping) error
	UpdateMapping(ctx context.Context, mapping *model.GroupAccountMapping) error
	RemoveMapping(ctx context.Context, groupID, mappingID model.ID) error
}

// RunStore is the narrow ExecutionRun + event read seam for the
// /execution-groups/{id}/runs endpoints.
type RunStore interface {
	ListByGroup(ctx context.Context, groupID model.ID) ([]model.ExecutionRun, error)
}

// EventReader is the narrow read side of the Execution Event Store.
type EventReader interface {
	ListByRun(ctx context.Context, runID model.ID) ([]model.ExecutionEvent, error)
}

// GroupDeps wires the Allocation Planner and Execution
// Orchestrator behind the ExecutionGroup HTTP surface.
type GroupDeps struct {
	Groups       GroupStore
	Runs         RunStore
	Events       EventReader
	Orchestrator *orchestrator.Orchestrator
}

func parseGroupID(w http.ResponseWriter, r *http.Request) (model.ID, bool) {
	id, err := model.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid execution group id")
		return model.ZeroID, false
	}
	return id, true
}

type createGroupPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Mode        model.GroupMode `json:"mode"`
}

func ListGroupsHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		groups, err := deps.Groups.ListByUser(r.Context(), user.ID)
		if err != nil {
			internalError(w, log, "list execution groups failed", err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

func CreateGroupHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		var payload createGroupPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if payload.Name == "" {
			badRequest(w, "name is required")
			return
		}
		if payload.Mode == "" {
			payload.Mode = model.GroupModeParallel
		}
		group := &model.ExecutionGroup{
			ID:          model.NewID(),
			UserID:      user.ID,
			Name:        payload.Name,
			Description: payload.Description,
			Mode:        payload.Mode,
		}
		if err := deps.Groups.Create(r.Context(), group); err != nil {
			internalError(w, log, "create execution group failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, group)
	}
}

func GetGroupHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		group, err := deps.Groups.Get(r.Context(), user.ID, groupID)
		if err != nil {
			internalError(w, log, "load execution group failed", err)
			return
		}
		if group == nil {
			notFound(w, "execution group not found")
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func UpdateGroupHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		group, err := deps.Groups.Get(r.Context(), user.ID, groupID)
		if err != nil {
			internalError(w, log, "load execution group failed", err)
			return
		}
		if group == nil {
			notFound(w, "execution group not found")
			return
		}
		var payload createGroupPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if payload.Name != "" {
			group.Name = payload.Name
		}
		group.Description = payload.Description
		if payload.Mode != "" {
			group.Mode = payload.Mode
		}
		if err := deps.Groups.Update(r.Context(), group); err != nil {
			internalError(w, log, "update execution group failed", err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func DeleteGroupHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		if err := deps.Groups.Delete(r.Context(), user.ID, groupID); err != nil {
			internalError(w, log, "delete execution group failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type mappingPayload struct {
	AccountID string                 `json:"account_id"`
	Policy    model.AllocationPolicy `json:"policy"`
	Weight    *float64               `json:"weight,omitempty"`
	FixedLots *int                   `json:"fixed_lots,omitempty"`
	SortOrder int                    `json:"sort_order"`
}

func AddMappingHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		var payload mappingPayload
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
		mapping := &model.GroupAccountMapping{
			ID:        model.NewID(),
			GroupID:   groupID,
			AccountID: accountID,
			Policy:    payload.Policy,
			Weight:    payload.Weight,
			FixedLots: payload.FixedLots,
			SortOrder: payload.SortOrder,
		}
		if err := deps.Groups.AddMapping(r.Context(), mapping); err != nil {
			internalError(w, log, "add group account mapping failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, mapping)
	}
}

func UpdateMappingHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		mappingID, err := model.ParseID(chi.URLParam(r, "mapping_id"))
		if err != nil {
			badRequest(w, "invalid mapping id")
			return
		}
		var payload mappingPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		mapping := &model.GroupAccountMapping{
			ID:        mappingID,
			GroupID:   groupID,
			Policy:    payload.Policy,
			Weight:    payload.Weight,
			FixedLots: payload.FixedLots,
			SortOrder: payload.SortOrder,
		}
		if err := deps.Groups.UpdateMapping(r.Context(), mapping); err != nil {
			internalError(w, log, "update group account mapping failed", err)
			return
		}
		writeJSON(w, http.StatusOK, mapping)
	}
}

func RemoveMappingHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		mappingID, err := model.ParseID(chi.URLParam(r, "mapping_id"))
		if err != nil {
			badRequest(w, "invalid mapping id")
			return
		}
		if err := deps.Groups.RemoveMapping(r.Context(), groupID, mappingID); err != nil {
			internalError(w, log, "remove group account mapping failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type previewPayload struct {
	TotalLots int `json:"total_lots"`
}

// PreviewAllocationHandler runs the Allocation Planner against a
// group's current mappings without dispatching anything.
func PreviewAllocationHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		totalLots := 1
		raw := r.URL.Query().Get("lots")
		if raw == "" {
			raw = r.URL.Query().Get("total_lots")
		}
		if raw != "" {
			var payload previewPayload
			_ = json.Unmarshal([]byte(`{"total_lots":`+raw+`}`), &payload)
			if payload.TotalLots > 0 {
				totalLots = payload.TotalLots
			}
		}
		mappings, err := deps.Groups.Mappings(r.Context(), groupID)
		if err != nil {
			internalError(w, log, "load group mappings failed", err)
			return
		}
		plan, err := allocation.Plan(mappings, totalLots)
		if err != nil {
			writeDomainError(w, log, "preview allocation failed", err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

type placeGroupOrderPayload struct {
	Symbol     string          `json:"symbol"`
	Side       model.OrderSide `json:"side"`
	Lots       int             `json:"lots"`
	LotSize    int             `json:"lot_size"`
	OrderType  model.OrderKind `json:"order_type"`
	Price      *float64        `json:"price,omitempty"`
	TakeProfit *float64        `json:"take_profit,omitempty"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	Exchange   string          `json:"exchange,omitempty"`
	Token      string          `json:"token,omitempty"`
	StrategyID *string         `json:"strategy_id,omitempty"`
}

// allocationEntry is the wire shape of one dispatched leg.
type allocationEntry struct {
	AccountID        model.ID               `json:"account_id"`
	Lots             int                    `json:"lots"`
	Quantity         int                    `json:"quantity"`
	AllocationPolicy model.AllocationPolicy `json:"allocation_policy"`
	Weight           *float64               `json:"weight,omitempty"`
	FixedLots        *int                   `json:"fixed_lots,omitempty"`
}

type placeGroupOrderResponse struct {
	ExecutionRunID model.ID           `json:"execution_run_id"`
	Status         model.RunStatus    `json:"status"`
	Allocation     []allocationEntry  `json:"allocation"`
	Orders         []model.ID         `json:"orders"`
}

// PlaceGroupOrderHandler fans a TradeIntent out across a group via the
// Execution Orchestrator, returning the run id, allocation and orders.
func PlaceGroupOrderHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		group, err := deps.Groups.Get(r.Context(), user.ID, groupID)
		if err != nil {
			internalError(w, log, "load execution group failed", err)
			return
		}
		if group == nil {
			notFound(w, "execution group not found")
			return
		}
		mappings, err := deps.Groups.Mappings(r.Context(), groupID)
		if err != nil {
			internalError(w, log, "load group mappings failed", err)
			return
		}

		var payload placeGroupOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
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

		intent := model.TradeIntent{
			Symbol:     payload.Symbol,
			Side:       payload.Side,
			TotalLots:  payload.Lots,
			LotSize:    payload.LotSize,
			OrderType:  payload.OrderType,
			Price:      payload.Price,
			TakeProfit: payload.TakeProfit,
			StopLoss:   payload.StopLoss,
			Exchange:   payload.Exchange,
			Token:      payload.Token,
			StrategyID: strategyID,
		}

		result, err := deps.Orchestrator.Run(r.Context(), orchestrator.RunRequest{
			UserID:   user.ID,
			Group:    *group,
			Mappings: mappings,
			Intent:   intent,
		})
		if err != nil {
			internalError(w, log, "run execution failed", err)
			return
		}

		plan, planErr := allocation.Plan(mappings, payload.Lots)
		entries := make([]allocationEntry, 0, len(plan.Dispatched))
		if planErr == nil {
			for _, leg := range plan.Dispatched {
				entries = append(entries, allocationEntry{
					AccountID:        leg.Mapping.AccountID,
					Lots:             leg.Lots,
					Quantity:         leg.Lots * payload.LotSize,
					AllocationPolicy: leg.Mapping.Policy,
					Weight:           leg.Mapping.Weight,
					FixedLots:        leg.Mapping.FixedLots,
				})
			}
		}

		writeJSON(w, http.StatusCreated, placeGroupOrderResponse{
			ExecutionRunID: result.Run.ID,
			Status:         result.Run.Status,
			Allocation:     entries,
			Orders:         result.Orders,
		})
	}
}

func ListRunsHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := parseGroupID(w, r)
		if !ok {
			return
		}
		runs, err := deps.Runs.ListByGroup(r.Context(), groupID)
		if err != nil {
			internalError(w, log, "list execution runs failed", err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func ListRunEventsHandler(deps GroupDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := model.ParseID(chi.URLParam(r, "run_id"))
		if err != nil {
			badRequest(w, "invalid run id")
			return
		}
		events, err := deps.Events.ListByRun(r.Context(), runID)
		if err != nil {
			internalError(w, log, "list execution events failed", err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}
