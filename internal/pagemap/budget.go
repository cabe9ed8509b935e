package pagemap

import (
	"sort"

	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/tokens"
)

const (
	// interactableOverhead reserves prompt tokens for the header and
	// meta sections around the actions list.
	interactableOverhead = 80
	// minInteractableBudget guarantees a floor even when the pruned
	// context ate the whole budget.
	minInteractableBudget = 100
)

// inputRoles always survive the budget filter first: losing an input
// usually makes the page unusable for the agent.
var inputRoles = map[string]bool{
	"searchbox": true,
	"textbox":   true,
	"combobox":  true,
	"checkbox":  true,
	"radio":     true,
	"switch":    true,
	"slider":    true,
}

// tableNoiseRoles are grid plumbing that only matters on data-heavy
// pages; they are kept ahead of the anonymous remainder only.
var tableNoiseRoles = map[string]bool{
	"row":      true,
	"cell":     true,
	"gridcell": true,
}

// budgetFilter drops interactables lowest-priority-first until their
// serialized form fits available = total - prunedTokens - overhead
// (floor minInteractableBudget). Five buckets, highest priority first:
// tier-1 in main, inputs, tier-1 in regions the pruner discarded,
// table noise, everything else. Survivors are re-sorted into document
// order and renumbered 1..N.
func budgetFilter(items []detect.Interactable, prunedTokens, totalBudget int, prunedRegions []string) (kept []detect.Interactable, dropped int) {
	if len(items) == 0 {
		return items, 0
	}

	available := totalBudget - prunedTokens - interactableOverhead
	if available < minInteractableBudget {
		available = minInteractableBudget
	}

	prunedSet := make(map[string]bool, len(prunedRegions))
	for _, r := range prunedRegions {
		prunedSet[r] = true
	}

	var tier1Main, inputs, tier1Pruned, tableNoise, rest []detect.Interactable
	for _, el := range items {
		switch {
		case el.Tier == 1 && el.Region == "main":
			tier1Main = append(tier1Main, el)
		case inputRoles[el.Role]:
			inputs = append(inputs, el)
		case el.Tier == 1 && prunedSet[el.Region]:
			tier1Pruned = append(tier1Pruned, el)
		case tableNoiseRoles[el.Role]:
			tableNoise = append(tableNoise, el)
		default:
			rest = append(rest, el)
		}
	}

	selected := make([]detect.Interactable, 0, len(items))
	used := 0
	for _, bucket := range [][]detect.Interactable{tier1Main, inputs, tier1Pruned, tableNoise, rest} {
		for _, el := range bucket {
			cost := tokens.Count(actionLine(el))
			if used+cost > available {
				break
			}
			selected = append(selected, el)
			used += cost
		}
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Ref < selected[j].Ref })
	for i := range selected {
		selected[i].Ref = i + 1
	}
	return selected, len(items) - len(selected)
}
