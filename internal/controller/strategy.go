package controller

import "kitchen-sim/internal/catalog"

// prefixStrategy is the default Strategy, implementing spec.md §4.4's
// selection algorithm verbatim: among robots capable of the recipe's
// next action, prefer the one that can run the longest unbroken run
// of subsequent actions too (maximizing usable prefix length), tying
// first on lower overall_time (faster current queue) and finally on
// greater position (closer to OUTPUT, so the dish travels less belt).
type prefixStrategy struct{}

func (prefixStrategy) OnNewOrder(membership map[uint32]RemoteRobot, recipe catalog.Recipe, processedSteps uint32) (Selection, *SwapRequest, *ReconfigRequest) {
	if processedSteps >= uint32(len(recipe.Actions)) {
		return Selection{}, nil, nil
	}
	needed := recipe.Actions[processedSteps].Name

	var best RemoteRobot
	var bestPrefix uint32
	found := false

	for _, r := range membership {
		if !r.Capabilities[needed] {
			continue
		}
		prefix := usablePrefixLength(r, recipe, processedSteps)
		if !found ||
			prefix > bestPrefix ||
			(prefix == bestPrefix && r.OverallTimeMS < best.OverallTimeMS) ||
			(prefix == bestPrefix && r.OverallTimeMS == best.OverallTimeMS && r.Position > best.Position) {
			best = r
			bestPrefix = prefix
			found = true
		}
	}

	return Selection{Robot: best, Found: found}, nil, nil
}

// usablePrefixLength counts how many of the recipe's remaining
// actions, starting at processedSteps, r can run without a capability
// gap.
func usablePrefixLength(r RemoteRobot, recipe catalog.Recipe, processedSteps uint32) uint32 {
	var n uint32
	for i := processedSteps; i < uint32(len(recipe.Actions)); i++ {
		if !r.Capabilities[recipe.Actions[i].Name] {
			break
		}
		n++
	}
	return n
}
