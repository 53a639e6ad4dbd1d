package robot

import (
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus"
)

// startNextRound pops the next reserved order and begins cooking it.
// Only called on the worker goroutine, and only when the robot is
// Idle — spec.md §4.2's "must NOT start the next queued order until
// the conveyor has called handover_finished_order" invariant is
// enforced by callers only invoking this from Idle or from
// handleHandoverFinishedOrder after clearing pendingPickup.
func (r *Robot) startNextRound() {
	if len(r.orderQueue) == 0 {
		r.state = Idle
		return
	}
	next := r.orderQueue[0]
	r.orderQueue = r.orderQueue[1:]
	r.current = &next
	r.actionsInRound = next.actions

	recipe, err := r.catalog.Recipe(next.recipeID)
	dishName := ""
	if err == nil {
		dishName = recipe.DishName
	}
	r.setPublished(func(p *published) {
		p.recipeID = next.recipeID
		p.dishName = dishName
	})
	r.publish("recipe_id", nodebus.U32(next.recipeID))
	r.publish("dish_name", nodebus.String(dishName))

	r.executeNext()
}

// executeNext drives one step of the current round: a retool if the
// next action needs a different tool, otherwise the action itself.
func (r *Robot) executeNext() {
	if len(r.actionsInRound) == 0 {
		r.endRound()
		return
	}
	action := r.actionsInRound[0]

	r.pub.mu.RLock()
	currentTool := r.pub.currentTool
	r.pub.mu.RUnlock()

	if currentTool != action.Tool {
		r.state = Retooling
		r.cancelTimer = r.worker.Schedule(r.retoolCost, func() {
			r.onRetoolComplete(action)
		})
		return
	}
	r.beginAction(action)
}

func (r *Robot) onRetoolComplete(action catalog.Action) {
	r.setPublished(func(p *published) { p.currentTool = action.Tool })
	r.publish("current_tool", nodebus.String(action.Tool))
	r.beginAction(action)
}

func (r *Robot) beginAction(action catalog.Action) {
	r.state = Cooking
	remaining := uint32(r.remainingTime().Milliseconds())
	r.setPublished(func(p *published) {
		p.actionName = action.Name
		p.ingredients = action.Ingredients
		p.currentTool = action.Tool
		p.overallTimeMS = remaining
	})
	r.publish("action_name", nodebus.String(action.Name))
	r.publish("ingredients", nodebus.String(action.Ingredients))
	r.publish("current_tool", nodebus.String(action.Tool))
	r.publish("overall_time", nodebus.U32(remaining))

	r.cancelTimer = r.worker.Schedule(action.Duration, r.onActionComplete)
}

func (r *Robot) onActionComplete() {
	if len(r.actionsInRound) > 0 {
		r.actionsInRound = r.actionsInRound[1:]
	}
	r.executeNext()
}

// remainingTime recomputes this round's remaining overall_time from
// actionsInRound and the robot's current tool, the same rule
// ReceiveTask used to publish the round's initial estimate.
func (r *Robot) remainingTime() (total time.Duration) {
	if len(r.actionsInRound) == 0 {
		return 0
	}
	r.pub.mu.RLock()
	currentTool := r.pub.currentTool
	r.pub.mu.RUnlock()

	for idx, a := range r.actionsInRound {
		total += a.Duration
		if idx > 0 && a.Tool != r.actionsInRound[idx-1].Tool {
			total += r.retoolCost
		}
	}
	if currentTool != r.actionsInRound[0].Tool {
		total += r.retoolCost
	}
	return total
}

// endRound is reached when actionsInRound empties: the robot can
// proceed no further on this recipe this round, per spec.md §4.2's
// "end of round" rule.
func (r *Robot) endRound() {
	recipe, err := r.catalog.Recipe(r.current.recipeID)
	total := uint32(0)
	if err == nil {
		total = uint32(len(recipe.Actions))
	}
	processedAfter := r.current.processedBefore + r.current.processableSteps
	r.isDishFinished = processedAfter == total

	r.setPublished(func(p *published) {
		p.actionName = noneSentinel
		p.ingredients = noneSentinel
		p.overallTimeMS = 0
	})
	r.publish("action_name", nodebus.String(noneSentinel))
	r.publish("ingredients", nodebus.String(noneSentinel))
	r.publish("overall_time", nodebus.U32(0))

	r.pendingPickup = true
	r.state = AwaitingPickup
	r.notifyConveyor(r.position)
}
