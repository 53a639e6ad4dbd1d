package kitchen

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
)

func (k *Kitchen) handleReceiveNextRobot(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 3 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "receive_next_robot", nil)
	}
	ok := k.ReceiveNextRobot(args[0].U32, args[1].Str, args[2].U32)
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// ReceiveNextRobot is the Controller's asynchronous reply to a
// choose_next_robot request this Kitchen made when admitting a new
// order (spec.md §4.5's assignment path).
func (k *Kitchen) ReceiveNextRobot(position uint32, endpoint string, recipeID uint32) bool {
	done := make(chan bool, 1)
	k.worker.Post(func() {
		done <- k.receiveNextRobotOnWorker(position, endpoint, recipeID)
	})
	return <-done
}

func (k *Kitchen) receiveNextRobotOnWorker(position uint32, endpoint string, recipeID uint32) bool {
	if position == Output || endpoint == "" {
		k.droppedOrders++
		k.publishCounters()
		if k.sink != nil {
			k.sink.Publish(events.OrderEvent{Kind: events.Dropped, RecipeID: recipeID})
		}
		return true
	}

	if _, ok := k.byEndpoint[endpoint]; !ok {
		k.ensureRobotSession(position, endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, accepted, err := k.robots.ReceiveTask(ctx, endpoint, recipeID, 0, position)
	if err != nil || !accepted {
		log.Printf("kitchen: receive_task on %s for recipe %d rejected/failed: %v", endpoint, recipeID, err)
		k.droppedOrders++
		k.publishCounters()
		if k.sink != nil {
			k.sink.Publish(events.OrderEvent{Kind: events.Dropped, RecipeID: recipeID, Endpoint: endpoint, Position: position})
		}
		return true
	}

	k.assignedOrders++
	k.publishCounters()
	if k.sink != nil {
		k.sink.Publish(events.OrderEvent{Kind: events.Assigned, RecipeID: recipeID, Endpoint: endpoint, Position: position})
	}
	return true
}

func (k *Kitchen) handleReceiveCompletedOrder(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 1 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "receive_completed_order", nil)
	}
	ok := k.ReceiveCompletedOrder(args[0].U32)
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// ReceiveCompletedOrder is called by the Conveyor once a finished dish
// reaches OUTPUT. completed_orders is the only counter it touches.
func (k *Kitchen) ReceiveCompletedOrder(recipeID uint32) bool {
	done := make(chan bool, 1)
	k.worker.Post(func() {
		k.completedOrders++
		k.publishCounters()
		if k.sink != nil {
			k.sink.Publish(events.OrderEvent{Kind: events.Completed, RecipeID: recipeID})
		}
		done <- true
	})
	return <-done
}

func (k *Kitchen) handleReceiveDroppedOrder(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	if len(args) != 1 {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "receive_dropped_order", nil)
	}
	ok := k.ReceiveDroppedOrder(args[0].U32)
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// ReceiveDroppedOrder is called by the Conveyor when a plate it is
// carrying arrives at OUTPUT unfinished — typically because the robot
// that was working it died mid-flight (spec.md §7's reclassification
// behaviour). Kept as its own method rather than overloading
// receive_completed_order with an is_finished flag, since spec.md §6's
// bit-exact signature for receive_completed_order takes no such flag.
func (k *Kitchen) ReceiveDroppedOrder(recipeID uint32) bool {
	done := make(chan bool, 1)
	k.worker.Post(func() {
		k.droppedOrders++
		k.publishCounters()
		if k.sink != nil {
			k.sink.Publish(events.OrderEvent{Kind: events.Dropped, RecipeID: recipeID})
		}
		done <- true
	})
	return <-done
}
