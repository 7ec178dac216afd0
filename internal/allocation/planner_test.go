package allocation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

func mapping(policy model.AllocationPolicy, sortOrder int, weight *float64, fixedLots *int) model.GroupAccountMapping {
	return model.GroupAccountMapping{
		ID:        model.NewID(),
		AccountID: model.NewID(),
		Policy:    policy,
		Weight:    weight,
		FixedLots: fixedLots,
		SortOrder: sortOrder,
	}
}

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

func TestPlan_ProportionalSplit(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyProportional, 0, nil, nil),
		mapping(model.PolicyProportional, 1, nil, nil),
		mapping(model.PolicyProportional, 2, nil, nil),
	}

	alloc, err := Plan(mappings, 10)
	require.NoError(t, err)
	require.Equal(t, 10, alloc.TotalLots())

	lots := make([]int, len(alloc.Dispatched))
	for i, leg := range alloc.Dispatched {
		lots[i] = leg.Lots
	}
	require.Equal(t, []int{4, 3, 3}, lots)
}

func TestPlan_WeightedWithFixed(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyFixed, 0, nil, n(2)),
		mapping(model.PolicyWeighted, 1, f(3), nil),
		mapping(model.PolicyWeighted, 2, f(1), nil),
	}

	alloc, err := Plan(mappings, 10)
	require.NoError(t, err)
	require.Equal(t, 10, alloc.TotalLots())

	byAccount := map[model.ID]int{}
	for _, leg := range alloc.Dispatched {
		byAccount[leg.Mapping.AccountID] = leg.Lots
	}
	require.Equal(t, 2, byAccount[mappings[0].AccountID])
	require.Equal(t, 6, byAccount[mappings[1].AccountID])
	require.Equal(t, 2, byAccount[mappings[2].AccountID])
}

func TestPlan_FixedExceedsTotal_RemainingFixedGetZero(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyFixed, 0, nil, n(5)),
		mapping(model.PolicyFixed, 1, nil, n(5)),
		mapping(model.PolicyFixed, 2, nil, n(5)),
	}

	alloc, err := Plan(mappings, 7)
	require.NoError(t, err)
	require.Equal(t, 7, alloc.TotalLots())
	require.Len(t, alloc.Dispatched, 2)
	require.Equal(t, 5, alloc.Dispatched[0].Lots)
	require.Equal(t, 2, alloc.Dispatched[1].Lots)
	require.Len(t, alloc.Dropped, 1)
	require.Equal(t, 0, alloc.Dropped[0].Lots)
}

func TestPlan_ZeroLotAccountsDroppedButTraced(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyWeighted, 0, f(100), nil),
		mapping(model.PolicyWeighted, 1, f(0.001), nil),
	}

	alloc, err := Plan(mappings, 1)
	require.NoError(t, err)
	require.Equal(t, 1, alloc.TotalLots())
	require.Len(t, alloc.Dispatched, 1)
	require.Len(t, alloc.Dropped, 1)
	require.NotEmpty(t, alloc.Dropped[0].PolicyTrace)
}

func TestPlan_NoEligibleAccounts(t *testing.T) {
	_, err := Plan(nil, 5)
	require.ErrorIs(t, err, ErrNoEligibleAccounts)
}

func TestPlan_InvalidTotalLots(t *testing.T) {
	mappings := []model.GroupAccountMapping{mapping(model.PolicyProportional, 0, nil, nil)}
	_, err := Plan(mappings, 0)
	require.Error(t, err)
}

func TestPlan_EvenSplitOfThreeAcrossThree(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyProportional, 0, nil, nil),
		mapping(model.PolicyProportional, 1, nil, nil),
		mapping(model.PolicyProportional, 2, nil, nil),
	}

	alloc, err := Plan(mappings, 3)
	require.NoError(t, err)
	require.Equal(t, 3, alloc.TotalLots())

	for _, leg := range alloc.Dispatched {
		require.Equal(t, 1, leg.Lots)
	}
}

func TestPlan_DeterministicOrder(t *testing.T) {
	mappings := []model.GroupAccountMapping{
		mapping(model.PolicyProportional, 2, nil, nil),
		mapping(model.PolicyProportional, 0, nil, nil),
		mapping(model.PolicyProportional, 1, nil, nil),
	}

	alloc, err := Plan(mappings, 9)
	require.NoError(t, err)

	var order []int
	for _, leg := range alloc.Dispatched {
		order = append(order, leg.Mapping.SortOrder)
	}
	require.Equal(t, []int{0, 1, 2}, order)
}
