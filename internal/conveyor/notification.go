package conveyor

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/nodebus"
)

func (c *Conveyor) handleFinishedOrderNotification(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 2 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "finished_order_notification", nil)
	}
	ok := c.FinishedOrderNotification(args[0].Str, args[1].U32)
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// FinishedOrderNotification implements spec.md §4.3's idempotent
// notification handling: repeated calls for the same position before
// retrieval runs collapse into a single pending entry, satisfying
// spec.md §8's "at most one handover_finished_order call" property.
func (c *Conveyor) FinishedOrderNotification(endpoint string, position uint32) bool {
	done := make(chan bool, 1)
	c.worker.Post(func() {
		done <- c.notifyOnWorker(endpoint, position)
	})
	return <-done
}

func (c *Conveyor) notifyOnWorker(endpoint string, position uint32) bool {
	_, alreadyPending := c.notifications[position]
	c.notifications[position] = endpoint
	if !alreadyPending && c.state == Idling {
		c.retrieveFinishedOrders()
	}
	return true
}

// retrieveFinishedOrders drains c.notifications in belt-rotation order
// starting from idlePosition, per spec.md §4.3's ordering guarantee
// that prevents starvation of downstream robots.
func (c *Conveyor) retrieveFinishedOrders() {
	if len(c.notifications) == 0 {
		return
	}
	ring := c.robotCount + 1
	for i := uint32(0); i < ring; i++ {
		pos := (c.idlePosition + i) % ring
		endpoint, ok := c.notifications[pos]
		if !ok {
			continue
		}
		delete(c.notifications, pos)
		c.retrieveOne(pos, endpoint)
	}
	if c.state == Idling && c.hasPendingTarget() {
		c.startMoving()
	}
}

// retrieveOne calls the robot's handover_finished_order method
// synchronously from the worker, per spec.md §4.3's explicit
// retrieval discipline.
func (c *Conveyor) retrieveOne(position uint32, endpoint string) {
	plate := c.plateAtPosition(position)
	if plate == nil {
		log.Printf("conveyor: no plate at position %d for retrieval from %s", position, endpoint)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	recipeID, processedSteps, isFinished, err := c.robots.HandoverFinishedOrder(ctx, endpoint)
	if plate.StartedAt.IsZero() {
		plate.StartedAt = time.Now()
	}
	if err != nil {
		log.Printf("conveyor: handover_finished_order on %s failed, dropping its plate: %v", endpoint, err)
		plate.Occupied = true
		plate.IsDishFinished = false
		plate.TargetPosition = Output
		c.publishPlates()
		return
	}

	plate.Occupied = true
	plate.RecipeID = recipeID
	plate.ProcessedSteps = processedSteps
	plate.IsDishFinished = isFinished
	if isFinished {
		plate.TargetPosition = Output
	} else {
		plate.TargetPosition = position // no-op move until the controller's reply retargets it
		c.pendingReplies[recipeID] = append(c.pendingReplies[recipeID], plate.ID)
		go c.requestNextRobot(recipeID, processedSteps)
	}
	c.publishPlates()
}

// requestNextRobot is fire-and-forget from the conveyor's view, per
// spec.md §4.4: failure to deliver the request is logged and the
// plate simply waits (its target stays a no-op) until a later retry
// path re-requests it.
func (c *Conveyor) requestNextRobot(recipeID, processedSteps uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.controller.ChooseNextRobot(ctx, recipeID, processedSteps, c.endpoint, "conveyor"); err != nil {
		log.Printf("conveyor: choose_next_robot for recipe %d failed: %v", recipeID, err)
	}
}

func (c *Conveyor) handleReceiveNextRobot(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 3 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "receive_next_robot", nil)
	}
	ok := c.ReceiveNextRobot(args[0].U32, args[1].Str, args[2].U32)
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// ReceiveNextRobot is the Controller's asynchronous reply to a
// choose_next_robot request this Conveyor made on behalf of a
// partially-finished plate (spec.md §4.4). position/endpoint identify
// the chosen robot; position==0 && endpoint=="" means no capable robot
// was found and the plate is routed to OUTPUT as a drop.
func (c *Conveyor) ReceiveNextRobot(position uint32, endpoint string, recipeID uint32) bool {
	done := make(chan bool, 1)
	c.worker.Post(func() {
		done <- c.receiveNextRobotOnWorker(position, endpoint, recipeID)
	})
	return <-done
}

func (c *Conveyor) receiveNextRobotOnWorker(position uint32, endpoint string, recipeID uint32) bool {
	queue := c.pendingReplies[recipeID]
	if len(queue) == 0 {
		return false
	}
	plateID := queue[0]
	c.pendingReplies[recipeID] = queue[1:]
	if len(c.pendingReplies[recipeID]) == 0 {
		delete(c.pendingReplies, recipeID)
	}

	plate := c.plateByID(plateID)
	if plate == nil {
		return false
	}

	if position == Output && endpoint == "" {
		plate.TargetPosition = Output
		plate.TargetEndpoint = ""
		plate.IsDishFinished = false
	} else {
		plate.TargetPosition = position
		plate.TargetEndpoint = endpoint
	}
	c.publishPlates()
	if c.state == Idling {
		c.startMoving()
	}
	return true
}
