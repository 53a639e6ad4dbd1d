package robot

import (
	"context"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus"
)

// receiveTaskResult is the channel payload used to pull the synchronous
// (actual_position, accepted) reply back out of the worker goroutine.
type receiveTaskResult struct {
	actualPosition uint32
	accepted       bool
}

// handleReceiveTask adapts the bus method call to ReceiveTask.
func (r *Robot) handleReceiveTask(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 3 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "receive_task", nil)
	}
	recipeID := args[0].U32
	processedSteps := args[1].U32
	addressedPosition := args[2].U32

	actualPosition, accepted := r.ReceiveTask(recipeID, processedSteps, addressedPosition)
	return nodebus.MethodResults{nodebus.U32(actualPosition), nodebus.Bool(accepted)}, nil
}

// ReceiveTask implements spec.md §4.2's prefix-computation algorithm.
// It runs on the worker goroutine and blocks the caller until done —
// the call itself never suspends (no RPC fan-out), so this is safe to
// invoke synchronously from the bus dispatch path.
func (r *Robot) ReceiveTask(recipeID, processedSteps, addressedPosition uint32) (actualPosition uint32, accepted bool) {
	if addressedPosition != r.position {
		return r.position, false
	}

	done := make(chan receiveTaskResult, 1)
	r.worker.Post(func() {
		done <- r.receiveTaskOnWorker(recipeID, processedSteps)
	})
	res := <-done
	return res.actualPosition, res.accepted
}

func (r *Robot) receiveTaskOnWorker(recipeID, processedSteps uint32) receiveTaskResult {
	recipe, err := r.catalog.Recipe(recipeID)
	if err != nil {
		return receiveTaskResult{actualPosition: r.position, accepted: false}
	}
	actions := recipe.Actions
	if processedSteps > uint32(len(actions)) {
		return receiveTaskResult{actualPosition: r.position, accepted: false}
	}

	i := processedSteps
	var k uint32
	for i+k < uint32(len(actions)) && r.caps[actions[i+k].Name] {
		k++
	}

	prefix := actions[i : i+k]
	roundOverall := r.roundOverallTime(prefix)
	r.setPublished(func(p *published) { p.overallTimeMS = uint32(roundOverall.Milliseconds()) })
	r.publish("overall_time", nodebus.U32(uint32(roundOverall.Milliseconds())))

	if k > 0 {
		lastTool := prefix[k-1].Tool
		r.setPublished(func(p *published) { p.lastEquippedTool = lastTool })
		r.publish("last_equipped_tool", nodebus.String(lastTool))
	}

	r.orderQueue = append(r.orderQueue, order{
		recipeID:         recipeID,
		processedBefore:  processedSteps,
		processableSteps: k,
		actions:          append([]catalog.Action(nil), prefix...),
	})

	if r.state == Idle {
		r.startNextRound()
	}

	return receiveTaskResult{actualPosition: r.position, accepted: true}
}

// roundOverallTime is step 4 of spec.md §4.2: the sum of this round's
// action durations, plus a retool cost for every tool change inside
// the prefix, plus one more if the robot's current tool differs from
// the prefix's first tool.
func (r *Robot) roundOverallTime(prefix []catalog.Action) (total time.Duration) {
	if len(prefix) == 0 {
		return 0
	}
	for idx, a := range prefix {
		total += a.Duration
		if idx > 0 && a.Tool != prefix[idx-1].Tool {
			total += r.retoolCost
		}
	}
	r.pub.mu.RLock()
	currentTool := r.pub.currentTool
	r.pub.mu.RUnlock()
	if currentTool != prefix[0].Tool {
		total += r.retoolCost
	}
	return total
}
