// Package allocation implements the Allocation Planner: a
// deterministic lot-split across the accounts of an ExecutionGroup that
// always preserves the requested total.
package allocation

import (
	"errors"
	"fmt"
	"sort"

	"strategyexecutor/internal/model"
)

// ErrNoEligibleAccounts is returned when the group has zero mapped
// accounts; callers surface this as the ALLOCATION_INVALID /
// NO_ELIGIBLE_ACCOUNTS error code.
var ErrNoEligibleAccounts = errors.New("allocation: no eligible accounts")

// Leg is one line of a planned Allocation: an account and the lots
// assigned to it, plus a trace of how that number was reached.
type Leg struct {
	Mapping     model.GroupAccountMapping
	Lots        int
	PolicyTrace string
}

// Allocation is the full, ordered result of planning one TradeIntent
// against one ExecutionGroup. Dispatched holds only legs with lots>0,
// in deterministic order; Dropped retains zero-lot legs purely for
// observability.
type Allocation struct {
	Dispatched []Leg
	Dropped    []Leg
}

// TotalLots sums Dispatched lots; callers assert this equals the
// intent's requested total as a property-test invariant.
func (a Allocation) TotalLots() int {
	total := 0
	for _, leg := range a.Dispatched {
		total += leg.Lots
	}
	return total
}

// Plan computes a deterministic Allocation for totalLots across the
// group's account mappings, applying three rules in order:
// fixed-first, weighted/proportional split of the remainder, then
// largest-remainder distribution of the leftover.
func Plan(mappings []model.GroupAccountMapping, totalLots int) (Allocation, error) {
	if len(mappings) == 0 {
		return Allocation{}, ErrNoEligibleAccounts
	}
	if totalLots <= 0 {
		return Allocation{}, fmt.Errorf("allocation: total_lots must be positive, got %d", totalLots)
	}

	ordered := make([]model.GroupAccountMapping, len(mappings))
	copy(ordered, mappings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	legs := make([]Leg, len(ordered))
	for i, m := range ordered {
		legs[i] = Leg{Mapping: m}
	}

	remaining := assignFixed(legs, totalLots)
	assignWeighted(legs, remaining)

	dispatched := make([]Leg, 0, len(legs))
	dropped := make([]Leg, 0)
	for _, leg := range legs {
		if leg.Lots > 0 {
			dispatched = append(dispatched, leg)
		} else {
			dropped = append(dropped, leg)
		}
	}

	return Allocation{Dispatched: dispatched, Dropped: dropped}, nil
}

// assignFixed satisfies policy=fixed mappings in mapping order until
// totalLots is exhausted; any fixed mapping left unsatisfied receives 0.
// Returns the lots remaining for the weighted/proportional pool.
func assignFixed(legs []Leg, totalLots int) int {
	remaining := totalLots
	for i := range legs {
		if legs[i].Mapping.Policy != model.PolicyFixed {
			continue
		}
		want := 0
		if legs[i].Mapping.FixedLots != nil {
			want = *legs[i].Mapping.FixedLots
		}
		if want > remaining {
			want = remaining
		}
		if want < 0 {
			want = 0
		}
		legs[i].Lots = want
		legs[i].PolicyTrace = fmt.Sprintf("fixed:requested=%d,assigned=%d", valueOrZero(legs[i].Mapping.FixedLots), want)
		remaining -= want
	}
	return remaining
}

// assignWeighted splits `remaining` lots across the non-fixed
// mappings. Weighted mappings use their configured weight; proportional
// mappings act as weight=1 within the same pool, which is equivalent to
// an even split when every participant is proportional.
func assignWeighted(legs []Leg, remaining int) {
	type pool struct {
		idx    int
		weight float64
	}
	var pools []pool
	for i := range legs {
		switch legs[i].Mapping.Policy {
		case model.PolicyFixed:
			continue
		case model.PolicyWeighted:
			w := 1.0
			if legs[i].Mapping.Weight != nil {
				w = *legs[i].Mapping.Weight
			}
			pools = append(pools, pool{idx: i, weight: w})
		default: // proportional
			pools = append(pools, pool{idx: i, weight: 1.0})
		}
	}

	if len(pools) == 0 {
		return
	}
	if remaining <= 0 {
		for _, p := range pools {
			legs[p.idx].PolicyTrace = "weighted:share=0(no remainder)"
		}
		return
	}

	totalWeight := 0.0
	for _, p := range pools {
		totalWeight += p.weight
	}
	if totalWeight <= 0 {
		totalWeight = float64(len(pools))
		for i := range pools {
			pools[i].weight = 1.0
		}
	}

	type fractional struct {
		idx    int
		remain float64
	}
	assigned := 0
	fracs := make([]fractional, 0, len(pools))
	for _, p := range pools {
		share := float64(remaining) * p.weight / totalWeight
		base := int(share)
		legs[p.idx].Lots = base
		assigned += base
		fracs = append(fracs, fractional{idx: p.idx, remain: share - float64(base)})
		legs[p.idx].PolicyTrace = fmt.Sprintf("weighted:weight=%.4f,share=%.4f,floor=%d", p.weight, share, base)
	}

	leftover := remaining - assigned
	sort.SliceStable(fracs, func(i, j int) bool {
		if fracs[i].remain == fracs[j].remain {
			return fracs[i].idx < fracs[j].idx
		}
		return fracs[i].remain > fracs[j].remain
	})
	for i := 0; i < leftover && i < len(fracs); i++ {
		legs[fracs[i].idx].Lots++
		legs[fracs[i].idx].PolicyTrace += ",+1(remainder)"
	}
}

func valueOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
