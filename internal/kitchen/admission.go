package kitchen

import (
	"context"
	"log"
	"math/rand"
	"time"

	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
)

func (k *Kitchen) handlePlaceRandomOrder(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	ok := k.PlaceRandomOrder()
	return nodebus.MethodResults{nodebus.Bool(ok)}, nil
}

// PlaceRandomOrder admits one order into the pipeline: received_orders
// increments synchronously (so conservation properties observe it
// immediately), and the actual choose_next_robot request passes
// through the PLACING_RATE gate of spec.md §4.5.
func (k *Kitchen) PlaceRandomOrder() bool {
	done := make(chan bool, 1)
	k.worker.Post(func() {
		k.admitOnWorker()
		done <- true
	})
	return <-done
}

func (k *Kitchen) admitOnWorker() {
	k.receivedOrders++
	k.publishCounters()
	if k.sink != nil {
		k.sink.Publish(events.OrderEvent{Kind: events.Received})
	}

	if !k.gateBusy {
		k.gateBusy = true
		k.dispatchRandomOrder()
		k.gateCancel = k.worker.Schedule(k.placingRate, k.releaseGate)
		return
	}
	k.gateQueue = append(k.gateQueue, k.dispatchRandomOrder)
}

// releaseGate is the gate's steady timer: it fires every PLACING_RATE,
// releasing the oldest queued order if one is waiting, and keeps
// re-arming itself as long as the gate stays busy.
func (k *Kitchen) releaseGate() {
	if len(k.gateQueue) == 0 {
		k.gateBusy = false
		k.gateCancel = nil
		return
	}
	next := k.gateQueue[0]
	k.gateQueue = k.gateQueue[1:]
	next()
	k.gateCancel = k.worker.Schedule(k.placingRate, k.releaseGate)
}

func (k *Kitchen) dispatchRandomOrder() {
	ids := k.catalog.RecipeIDs()
	if len(ids) == 0 {
		log.Printf("kitchen: no recipes loaded, cannot place an order")
		return
	}
	recipeID := ids[rand.Intn(len(ids))]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := k.controller.ChooseNextRobot(ctx, recipeID, 0, k.endpoint, "kitchen"); err != nil {
		log.Printf("kitchen: choose_next_robot for recipe %d failed: %v", recipeID, err)
	}
}
