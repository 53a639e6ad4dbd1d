package conveyor

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/events"
)

// startMoving transitions IDLING -> MOVING and schedules the first
// perform_movement tick, per spec.md §4.3.
func (c *Conveyor) startMoving() {
	c.state = Moving
	c.movementCancel = c.worker.Schedule(c.timeUnit, c.performMovement)
}

// performMovement is spec.md §4.3's MOVING tick: every plate advances
// one position around the ring (they are physically fixed to the
// belt and always move together), then any plate that has reached its
// target is either delivered to the Kitchen (at OUTPUT) or handed on
// to the next robot.
func (c *Conveyor) performMovement() {
	ring := c.robotCount + 1
	for i := range c.plates {
		c.plates[i].Position = (c.plates[i].Position + 1) % ring
	}
	c.idlePosition = (c.idlePosition + 1) % ring
	c.publishPlates()

	for i := range c.plates {
		p := &c.plates[i]
		if !p.Occupied || p.Position != p.TargetPosition {
			continue
		}
		switch {
		case p.Position == Output && p.IsDishFinished:
			c.deliverFinished(p)
		case p.Position == Output && !p.IsDishFinished:
			c.deliverDropped(p)
		default:
			c.handoverToNextRobot(p)
		}
	}

	if c.hasPendingTarget() {
		c.movementCancel = c.worker.Schedule(c.timeUnit, c.performMovement)
	} else {
		c.state = Idling
		c.movementCancel = nil
		// Notifications that arrived mid-transit never triggered a
		// drain (notifyOnWorker only drains while already Idling), so
		// every Idling transition must drain them itself.
		c.retrieveFinishedOrders()
	}
}

// deliverFinished hands a completed dish back to the Kitchen. A
// delivery failure leaves the plate occupied; it simply rides the
// belt around for another full revolution and retries, per spec.md
// §4.3's failure policy.
func (c *Conveyor) deliverFinished(p *Plate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.kitchen.ReceiveCompletedOrder(ctx, p.RecipeID)
	if err != nil || !ok {
		log.Printf("conveyor: receive_completed_order for recipe %d failed, retrying next revolution: %v", p.RecipeID, err)
		return
	}
	if c.stats != nil && !p.StartedAt.IsZero() {
		c.stats.RecordCompletion(p.RecipeID, time.Since(p.StartedAt))
	}
	p.StartedAt = time.Time{}
	c.freePlate(p.ID)
}

// deliverDropped hands an unfinished dish (dead robot, or no capable
// robot found) back to the Kitchen for reclassification as dropped,
// per spec.md §7's "never silently swallows plates" guarantee.
func (c *Conveyor) deliverDropped(p *Plate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := c.kitchen.ReceiveDroppedOrder(ctx, p.RecipeID)
	if err != nil || !ok {
		log.Printf("conveyor: receive_dropped_order for recipe %d failed, retrying next revolution: %v", p.RecipeID, err)
		return
	}
	if c.stats != nil {
		c.stats.RecordDrop(p.RecipeID)
	}
	p.StartedAt = time.Time{}
	c.freePlate(p.ID)
}

// handoverToNextRobot delivers a partially-cooked plate to the robot
// the Controller selected. Rejection (stale position — e.g. a
// position swap raced the selection) re-requests selection rather
// than dropping the dish.
func (c *Conveyor) handoverToNextRobot(p *Plate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	actualPosition, accepted, err := c.robots.ReceiveTask(ctx, p.TargetEndpoint, p.RecipeID, p.ProcessedSteps, p.Position)
	if err != nil || !accepted {
		log.Printf("conveyor: receive_task on %s for recipe %d rejected (actual_position=%d): re-requesting controller", p.TargetEndpoint, p.RecipeID, actualPosition)
		recipeID, processedSteps := p.RecipeID, p.ProcessedSteps
		c.pendingReplies[recipeID] = append(c.pendingReplies[recipeID], p.ID)
		p.TargetPosition = p.Position
		p.TargetEndpoint = ""
		c.publishPlates()
		go c.requestNextRobot(recipeID, processedSteps)
		return
	}
	if c.sink != nil {
		c.sink.Publish(events.OrderEvent{Kind: events.Handover, RecipeID: p.RecipeID, Position: p.Position, Endpoint: p.TargetEndpoint})
	}
	c.freePlate(p.ID)
}
