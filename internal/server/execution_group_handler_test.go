package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/allocation"
	"strategyexecutor/internal/model"
)

type memGroupStore struct {
	group    *model.ExecutionGroup
	mappings []model.GroupAccountMapping
}

func (m *memGroupStore) Create(_ context.Context, group *model.ExecutionGroup) error {
	m.group = group
	return nil
}

func (m *memGroupStore) Get(_ context.Context, _, _ model.ID) (*model.ExecutionGroup, error) {
	return m.group, nil
}

func (m *memGroupStore) ListByUser(_ context.Context, _ model.ID) ([]model.ExecutionGroup, error) {
	if m.group == nil {
		return nil, nil
	}
	return []model.ExecutionGroup{*m.group}, nil
}

func (m *memGroupStore) Update(_ context.Context, group *model.ExecutionGroup) error {
	m.group = group
	return nil
}

func (m *memGroupStore) Delete(_ context.Context, _, _ model.ID) error {
	m.group = nil
	return nil
}

func (m *memGroupStore) Mappings(_ context.Context, _ model.ID) ([]model.GroupAccountMapping, error) {
	return m.mappings, nil
}

func (m *memGroupStore) AddMapping(_ context.Context, mapping *model.GroupAccountMapping) error {
	m.mappings = append(m.mappings, *mapping)
	return nil
}

func (m *memGroupStore) UpdateMapping(_ context.Context, _ *model.GroupAccountMapping) error {
	return nil
}

func (m *memGroupStore) RemoveMapping(_ context.Context, _, _ model.ID) error {
	return nil
}

func proportionalMappings(n int) []model.GroupAccountMapping {
	mappings := make([]model.GroupAccountMapping, 0, n)
	for i := 0; i < n; i++ {
		mappings = append(mappings, model.GroupAccountMapping{
			ID:        model.NewID(),
			AccountID: model.NewID(),
			Policy:    model.PolicyProportional,
			SortOrder: i,
		})
	}
	return mappings
}

func TestPreviewAllocationHandler_ProportionalSplit(t *testing.T) {
	store := &memGroupStore{mappings: proportionalMappings(3)}
	r := chi.NewRouter()
	r.Get("/execution-groups/{id}/preview", PreviewAllocationHandler(GroupDeps{Groups: store}, testLog()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/execution-groups/"+model.NewID().String()+"/preview?lots=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var plan allocation.Allocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Dispatched, 3)

	lots := []int{plan.Dispatched[0].Lots, plan.Dispatched[1].Lots, plan.Dispatched[2].Lots}
	require.Equal(t, []int{4, 3, 3}, lots, "remainder goes to the first account in mapping order")
	require.Equal(t, 10, plan.TotalLots())
}

func TestPreviewAllocationHandler_NoAccounts(t *testing.T) {
	store := &memGroupStore{}
	r := chi.NewRouter()
	r.Get("/execution-groups/{id}/preview", PreviewAllocationHandler(GroupDeps{Groups: store}, testLog()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/execution-groups/"+model.NewID().String()+"/preview?lots=5", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "NO_ELIGIBLE_ACCOUNTS", envelope.Error.Code)
}
