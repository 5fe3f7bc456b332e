// Package toolgov implements tool-use governance: the Tool Config Manager
// (C4), Approval Manager (C5), and Tool Execution Service (C6).
package toolgov

import (
	"sort"

	"github.com/wombat2006/techdev-sub004/internal/model"
)

// Context carries the caller's constraints for one tools_for call.
type Context struct {
	TaskTier      model.Tier
	BudgetTier    model.ToolCostTier
	SecurityTier  model.ToolSecurityTier
	BudgetUsed    float64
	BudgetLimit   float64
	ExpectedCalls map[string]int // label -> expected call count, default 1
}

// costTierWeight gives each cost tier a relative weight for the budget
// estimator (free=0, standard=1, premium=4).
func costTierWeight(t model.ToolCostTier) float64 {
	switch t {
	case model.CostFree:
		return 0
	case model.CostStandard:
		return 1
	case model.CostPremium:
		return 4
	}
	return 0
}

// ConfigManager holds the closed catalog of ToolDescriptors known to the
// process. It does not filter at discovery time; tools_for applies the
// cost/security/budget filters at the point of advertising them to a
// request, so the full catalog remains available for other internal
// bookkeeping (e.g. audit, admin listing).
type ConfigManager struct {
	catalog []model.ToolDescriptor
}

func NewConfigManager(catalog []model.ToolDescriptor) *ConfigManager {
	return &ConfigManager{catalog: catalog}
}

// ToolsFor implements the Tool Config Manager contract: exclude by cost
// tier, exclude by security tier, then drop the most expensive remaining
// descriptors (by cost_tier_weight) until projected cost fits the budget.
func (m *ConfigManager) ToolsFor(ctx Context) []model.ToolDescriptor {
	var eligible []model.ToolDescriptor
	for _, d := range m.catalog {
		if d.CostTier > ctx.BudgetTier {
			continue
		}
		if d.SecurityTier > ctx.SecurityTier {
			continue
		}
		eligible = append(eligible, d)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return costTierWeight(eligible[i].CostTier) < costTierWeight(eligible[j].CostTier)
	})

	budgetRemaining := ctx.BudgetLimit - ctx.BudgetUsed
	var kept []model.ToolDescriptor
	var projected float64
	for _, d := range eligible {
		calls := 1
		if ctx.ExpectedCalls != nil {
			if c, ok := ctx.ExpectedCalls[d.Label]; ok && c > 0 {
				calls = c
			}
		}
		cost := costTierWeight(d.CostTier) * float64(calls)
		if projected+cost > budgetRemaining {
			break // drop this and all remaining (sorted cheapest-first, so
			// remaining descriptors are at least as expensive).
		}
		projected += cost
		kept = append(kept, d)
	}
	// When no budget limit is configured (BudgetLimit<=0), skip trimming.
	if ctx.BudgetLimit <= 0 {
		return eligible
	}
	return kept
}
