package controller

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/nodebus"
)

func (c *Controller) handleRegisterRobot(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 3 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "register_robot", nil)
	}
	log.Printf("controller: register_robot(%s, %d) via deprecated path ignored; discovery owns membership", args[0].Str, args[1].U32)
	return nodebus.MethodResults{}, nil
}

func (c *Controller) handleChooseNextRobot(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 4 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "choose_next_robot", nil)
	}
	accepted, err := c.ChooseNextRobot(ctx, args[0].U32, args[1].U32, args[2].Str, args[3].Str)
	if err != nil {
		return nil, err
	}
	return nodebus.MethodResults{nodebus.Bool(accepted)}, nil
}

// ChooseNextRobot accepts the request immediately — spec.md §4.4's
// returned bool is about request admission, not the eventual robot
// choice — and resolves the actual selection asynchronously on the
// worker, replying via ResponderCaller.ReceiveNextRobot once decided.
func (c *Controller) ChooseNextRobot(ctx context.Context, recipeID, processedSteps uint32, requesterEndpoint, requesterType string) (bool, error) {
	accepted := make(chan bool, 1)
	c.worker.Post(func() {
		accepted <- true
		c.resolveSelection(recipeID, processedSteps, requesterEndpoint, requesterType)
	})
	return <-accepted, nil
}

func (c *Controller) resolveSelection(recipeID, processedSteps uint32, requesterEndpoint, requesterType string) {
	recipe, err := c.catalog.Recipe(recipeID)
	if err != nil {
		log.Printf("controller: choose_next_robot for unknown recipe %d", recipeID)
		c.reply(requesterEndpoint, requesterType, Output, "", recipeID)
		return
	}

	selection, swap, reconfig := c.strategy.OnNewOrder(c.membership, recipe, processedSteps)
	c.applySwap(swap)
	c.applyReconfig(reconfig)

	if !selection.Found {
		c.reply(requesterEndpoint, requesterType, Output, "", recipeID)
		return
	}
	c.reply(requesterEndpoint, requesterType, selection.Robot.Position, selection.Robot.Endpoint, recipeID)
}

// Output is the sentinel position a reply carries when no capable
// robot was found, matching the conveyor/kitchen's own OUTPUT
// sentinel for "route to drop".
const Output = 0

func (c *Controller) reply(requesterEndpoint, requesterType string, position uint32, chosenEndpoint string, recipeID uint32) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := c.responder.ReceiveNextRobot(ctx, requesterEndpoint, requesterType, position, chosenEndpoint, recipeID); err != nil {
			log.Printf("controller: receive_next_robot on %s (%s) failed: %v", requesterEndpoint, requesterType, err)
		}
	}()
}

func (c *Controller) applySwap(swap *SwapRequest) {
	if swap == nil {
		return
	}
	a, okA := c.membership[swap.PositionA]
	b, okB := c.membership[swap.PositionB]
	if !okA || !okB {
		return
	}
	a.Position, b.Position = swap.PositionB, swap.PositionA
	c.membership[swap.PositionA] = b
	c.membership[swap.PositionB] = a
	c.sessions[swap.PositionA], c.sessions[swap.PositionB] = c.sessions[swap.PositionB], c.sessions[swap.PositionA]
	c.unsubscribes[swap.PositionA], c.unsubscribes[swap.PositionB] = c.unsubscribes[swap.PositionB], c.unsubscribes[swap.PositionA]
}

func (c *Controller) applyReconfig(reconfig *ReconfigRequest) {
	if reconfig == nil {
		return
	}
	r, ok := c.membership[reconfig.Position]
	if !ok {
		return
	}
	caps := make(map[string]bool, len(reconfig.Capabilities))
	for _, name := range reconfig.Capabilities {
		caps[name] = true
	}
	r.Capabilities = caps
	c.membership[reconfig.Position] = r
}
