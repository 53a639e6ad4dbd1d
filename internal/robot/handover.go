package robot

import (
	"context"

	"kitchen-sim/internal/nodebus"
)

type handoverResult struct {
	recipeID       uint32
	processedSteps uint32
	isFinished     bool
}

func (r *Robot) handleHandoverFinishedOrder(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	res := r.HandoverFinishedOrder()
	return nodebus.MethodResults{
		nodebus.U32(res.recipeID),
		nodebus.U32(res.processedSteps),
		nodebus.Bool(res.isFinished),
	}, nil
}

// HandoverFinishedOrder implements spec.md §4.2's AWAITING_PICKUP ->
// IDLE (or next queued order) transition: the Conveyor calls this
// once it has physically reached this robot's plate. It is safe to
// call even when nothing is pending — idempotent per spec.md §8's
// "Idempotent notifications" property — returning zero values.
func (r *Robot) HandoverFinishedOrder() handoverResult {
	done := make(chan handoverResult, 1)
	r.worker.Post(func() {
		done <- r.handoverOnWorker()
	})
	return <-done
}

func (r *Robot) handoverOnWorker() handoverResult {
	if !r.pendingPickup || r.current == nil {
		return handoverResult{}
	}

	res := handoverResult{
		recipeID:       r.current.recipeID,
		processedSteps: r.current.processedBefore + r.current.processableSteps,
		isFinished:     r.isDishFinished,
	}

	r.pendingPickup = false
	r.current = nil
	r.actionsInRound = nil
	r.startNextRound()

	return res
}
